// Package middleware provides the server-side handler chain: logging,
// timeout, retry, and token-bucket rate limiting wrapped around the business
// handler in onion order.
package middleware

import (
	"context"

	"imbalancer-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) runs as A(B(C(h))):
// A sees the request first and the response last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
