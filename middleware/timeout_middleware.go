package middleware

import (
	"context"
	"time"

	"imbalancer-rpc/message"
)

// TimeoutMiddleware bounds handler execution. The handler keeps running in
// its goroutine after the deadline; only the response is abandoned.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.RPCMessage{Error: "request timed out"}
			}
		}
	}
}
