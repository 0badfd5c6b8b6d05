package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"imbalancer-rpc/message"
)

// RetryMiddleware re-runs the handler on transient failures (timeouts,
// refused connections) with exponential backoff. Other errors return
// immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Error == "" {
					return resp
				}
				if !isTransient(resp.Error) {
					return resp
				}
				log.Printf("Retry attempt %d for %s due to error: %s", i+1, req.ServiceMethod, resp.Error)
				time.Sleep(baseDelay * time.Duration(1<<i))
				resp = next(ctx, req)
			}
			return resp
		}
	}
}

func isTransient(errMsg string) bool {
	return strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "connection refused")
}
