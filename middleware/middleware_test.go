package middleware

import (
	"context"
	"testing"
	"time"

	"imbalancer-rpc/message"
)

func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

func slowHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	time.Sleep(200 * time.Millisecond)
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)

	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Add"})
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", resp.Payload)
	}
}

func TestTimeout(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Add"})
	if resp.Error != "request timed out" {
		t.Fatalf("expect timeout error, got '%s'", resp.Error)
	}

	handler = TimeoutMiddleware(time.Second)(echoHandler)
	resp = handler(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Add"})
	if resp.Error != "" {
		t.Fatalf("expect success within deadline, got error '%s'", resp.Error)
	}
}

func TestRetryRecovers(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		attempts++
		if attempts < 3 {
			return &message.RPCMessage{Error: "connection refused"}
		}
		return &message.RPCMessage{Payload: []byte("ok")}
	}

	handler := RetryMiddleware(3, time.Millisecond)(flaky)
	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Add"})
	if resp.Error != "" {
		t.Fatalf("expect recovery after retries, got '%s'", resp.Error)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	attempts := 0
	failing := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		attempts++
		return &message.RPCMessage{Error: "no such method"}
	}

	handler := RetryMiddleware(3, time.Millisecond)(failing)
	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Nope"})
	if resp.Error != "no such method" {
		t.Fatalf("expect original error, got '%s'", resp.Error)
	}
	if attempts != 1 {
		t.Fatalf("expect no retries for permanent error, got %d attempts", attempts)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "Arith.Add"}
	// Burst of 2 passes, the third is rejected.
	for i := 0; i < 2; i++ {
		if resp := handler(context.Background(), req); resp.Error != "" {
			t.Fatalf("request %d within burst rejected: %s", i, resp.Error)
		}
	}
	if resp := handler(context.Background(), req); resp.Error != "rate limit exceeded" {
		t.Fatalf("expect rate limit rejection, got '%s'", resp.Error)
	}
}
