package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterStaleAfter    = 10 * time.Minute
)

// RateLimiter throttles callers per IP with a token bucket. Scheduling and
// payment providers redeliver aggressively during incidents; the limiter keeps
// a redelivery storm from starving the reconciliation path, and a 429 just
// means the provider tries the same event again later.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rate    float64 // token refill per second
	burst   float64 // bucket capacity
}

type clientBucket struct {
	tokens float64
	seenAt time.Time
}

func (b *clientBucket) take(now time.Time, rate, burst float64) bool {
	b.tokens += now.Sub(b.seenAt).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.seenAt = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the given
// burst size per IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*clientBucket),
		rate:    rate,
		burst:   float64(burst),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether a request from ip fits the budget.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{tokens: rl.burst, seenAt: now}
		rl.buckets[ip] = b
	}
	return b.take(now, rl.rate, rl.burst)
}

// sweep evicts buckets for IPs that have gone quiet so the map stays bounded.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterStaleAfter)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.seenAt.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects over-budget requests with 429 and a Retry-After hint so
// well-behaved providers back off before redelivering.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// Prefer X-Real-Ip set by chi's RealIP middleware.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !limiter.Allow(ip) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
