package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimitConfig returns the default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// RateLimiter implements per-client token bucket rate limiting.
type RateLimiter struct {
	mu        sync.Mutex
	config    RateLimitConfig
	buckets   map[string]*bucket
	now       func() time.Time
	lastEvict time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

const bucketEvictInterval = 10 * time.Minute

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks if a request from the given key is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastEvict) > bucketEvictInterval {
		rl.evictFullBuckets(now)
		rl.lastEvict = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(rl.config.Burst),
			lastRefill: now,
		}
		rl.buckets[key] = b
	}

	// Refill tokens
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.config.RequestsPerSecond
	if b.tokens > float64(rl.config.Burst) {
		b.tokens = float64(rl.config.Burst)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictFullBuckets drops clients whose bucket would have refilled completely;
// they are indistinguishable from new clients.
func (rl *RateLimiter) evictFullBuckets(now time.Time) {
	for key, b := range rl.buckets {
		refilled := b.tokens + now.Sub(b.lastRefill).Seconds()*rl.config.RequestsPerSecond
		if refilled >= float64(rl.config.Burst) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) retryAfter() string {
	secs := 1
	if rl.config.RequestsPerSecond > 0 {
		secs = int(math.Ceil(1 / rl.config.RequestsPerSecond))
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Middleware returns HTTP middleware that applies rate limiting.
// Requests for which keyFunc returns "" are not limited.
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(key) {
				w.Header().Set("Retry-After", rl.retryAfter())
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKeyFunc extracts the client IP from the request for rate limiting.
// Only /api/ routes are limited; the health check is exempt.
func ClientIPKeyFunc(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/health" {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
