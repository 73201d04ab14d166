package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user:1")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "user:1")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Error("Fourth request should be denied")
	}

	// A different key has its own window
	allowed, err = limiter.Allow(ctx, "user:2")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !allowed {
		t.Error("Different key should be allowed")
	}
}

func TestDistributedRateLimiter_Remaining(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user:1")
	if err != nil {
		t.Fatalf("Remaining returned error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("Fresh key remaining = %d, want 5", remaining)
	}

	limiter.Allow(ctx, "user:1")
	limiter.Allow(ctx, "user:1")

	remaining, err = limiter.Remaining(ctx, "user:1")
	if err != nil {
		t.Fatalf("Remaining returned error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("Remaining = %d, want 3", remaining)
	}
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()

	limiter.Allow(ctx, "user:1")
	if allowed, _ := limiter.Allow(ctx, "user:1"); allowed {
		t.Fatal("Second request should be denied")
	}

	if err := limiter.Reset(ctx, "user:1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	if allowed, _ := limiter.Allow(ctx, "user:1"); !allowed {
		t.Error("Request after reset should be allowed")
	}
}

func TestDistributedRateLimitMiddleware_Handler(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()

	m := NewDistributedRateLimitMiddleware(client)
	m.userLimiter = NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "ratelimit:user")

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = setIdentityForTest(req, 7)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

func TestDistributedRateLimitMiddleware_FailsOpen(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	m := NewDistributedRateLimitMiddleware(client)

	// Kill the backend; requests must still pass
	srv.Close()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 when backend is down, got %d", rec.Code)
	}
}
