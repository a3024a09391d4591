package security

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter decides whether the request identified by a client key
// may proceed. The gateway ships an in-process implementation; the
// interface is the seam for deployments that need a shared store.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
}

// InMemoryRateLimiter admits requests from per-key token buckets.
// Buckets refill continuously at the configured per-minute rate up to
// the burst size. Idle buckets are swept lazily during Allow, so there
// is no background goroutine to manage.
type InMemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64
	window    time.Duration
	enabled   bool
	logger    *logrus.Logger
	lastSweep time.Time
	now       func() time.Time // overridable for tests
}

type bucket struct {
	tokens  float64
	touched time.Time
}

// NewInMemoryRateLimiter creates a limiter from the config section.
// A zero burst size defaults to one minute's worth of requests.
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	burst := config.BurstSize
	if burst == 0 {
		burst = config.RequestsPerMinute
	}
	window := config.WindowDuration
	if window == 0 {
		window = time.Minute
	}

	return &InMemoryRateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(config.RequestsPerMinute) / 60,
		burst:   float64(burst),
		window:  window,
		enabled: config.Enabled,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow takes one token from the key's bucket, reporting how long the
// client should wait when the bucket is empty.
func (l *InMemoryRateLimiter) Allow(key string) RateLimitResult {
	if !l.enabled {
		return RateLimitResult{Allowed: true, Remaining: int(l.burst)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, touched: now}
		l.buckets[key] = b
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.touched).Seconds()*l.rate)
	b.touched = now

	if b.tokens >= 1 {
		b.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(b.tokens)}
	}

	retryAfter := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	l.logger.WithFields(logrus.Fields{
		"client":      maskClientKey(key),
		"retry_after": retryAfter,
	}).Warn("Request rate limited")

	return RateLimitResult{RetryAfter: retryAfter}
}

// sweep drops buckets idle for two windows. Runs at most once per
// window so a hot limiter does not rescan the map on every request.
func (l *InMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-2 * l.window)
	for key, b := range l.buckets {
		if b.touched.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// RateLimitMiddleware enforces the limiter per authenticated user,
// falling back to the client address for anonymous requests.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Allow(clientKey(r))

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				retrySeconds := int(math.Ceil(result.RetryAfter.Seconds()))
				if retrySeconds < 1 {
					retrySeconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":{"type":"rate_limit_error","message":"Too many requests","retry_after":%d}}`, retrySeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey buckets by authenticated user when the auth middleware ran
// first, else by client IP.
func clientKey(r *http.Request) string {
	if authInfo, ok := GetAuthInfo(r.Context()); ok {
		return "user:" + authInfo.UserID
	}
	return "ip:" + getClientIPFromRequest(r)
}

// maskClientKey keeps the key scheme and a short prefix for logs.
func maskClientKey(key string) string {
	scheme, rest, ok := strings.Cut(key, ":")
	if !ok || len(rest) <= 4 {
		return key
	}
	return scheme + ":" + rest[:4] + "****"
}
