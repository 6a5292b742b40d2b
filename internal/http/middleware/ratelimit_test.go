package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatalf("request beyond burst should be denied")
	}
}

func TestRateLimiterTracksIPsIndependently(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("10.0.0.1") {
		t.Fatalf("first ip should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatalf("second ip should have its own bucket")
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	mw := RateLimit(1, 1)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After hint, got %q", got)
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	if !rl.Allow("10.0.0.3") {
		t.Fatalf("first request should be allowed")
	}
	if rl.Allow("10.0.0.3") {
		t.Fatalf("bucket should be empty immediately after burst")
	}

	// Rewind the bucket's clock instead of sleeping; one second at 10/s
	// refills it to capacity.
	rl.mu.Lock()
	rl.buckets["10.0.0.3"].seenAt = rl.buckets["10.0.0.3"].seenAt.Add(-time.Second)
	rl.mu.Unlock()

	if !rl.Allow("10.0.0.3") {
		t.Fatalf("bucket should refill after idle time")
	}
}
