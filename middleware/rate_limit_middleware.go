package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"imbalancer-rpc/message"
)

// RateLimitMiddleware rejects requests beyond r per second with bursts up to
// burst, using a token bucket shared by all connections.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{Error: "rate limit exceeded"}
			}
			return next(ctx, req)
		}
	}
}
