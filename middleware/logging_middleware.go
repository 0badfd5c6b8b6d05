package middleware

import (
	"context"
	"log"
	"time"

	"imbalancer-rpc/message"
)

// LoggingMiddleware logs each call's method and duration, plus the error
// when the handler failed.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			log.Printf("ServiceMethod: %s, Duration: %s", req.ServiceMethod, time.Since(start))
			if resp.Error != "" {
				log.Printf("Error: %s", resp.Error)
			}
			return resp
		}
	}
}
