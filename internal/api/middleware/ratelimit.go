package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const secondsPerMinute = 60

type (
	// RateLimiter decides whether a request identified by key may
	// proceed. The key is the tenant ID for authenticated requests and
	// the client IP otherwise.
	//
	// The in-memory implementation is suitable for single-process
	// deployments; a shared-store implementation can replace it behind
	// this interface when scaling horizontally.
	RateLimiter interface {
		Allow(key string) bool
	}

	// InMemoryRateLimiter is a per-key token bucket limiter built on
	// golang.org/x/time/rate. Buckets refill at the configured
	// requests-per-minute rate with a burst of one minute's quota.
	//
	// Idle buckets are removed by a background cleanup goroutine to keep
	// memory bounded.
	InMemoryRateLimiter struct {
		buckets map[string]*bucket
		mu      sync.Mutex

		perMinute   int
		idleTimeout time.Duration
		maxEntries  int

		cleanupTicker *time.Ticker
		done          chan struct{}
	}

	bucket struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter creates a limiter from the config and starts its
// cleanup goroutine. Call Close when done.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = maxRateLimiterEntries
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	limiter := &InMemoryRateLimiter{
		buckets:     make(map[string]*bucket),
		perMinute:   perMinute,
		idleTimeout: idleTimeout,
		maxEntries:  maxEntries,
		done:        make(chan struct{}),
	}

	limiter.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-limiter.cleanupTicker.C:
				limiter.cleanup()
			case <-limiter.done:
				return
			}
		}
	}()

	return limiter
}

// Allow reports whether the keyed caller is within its per-minute budget.
func (rl *InMemoryRateLimiter) Allow(key string) bool {
	rl.mu.Lock()

	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxEntries {
			// Bucket table full. Refusing the request is safer than
			// letting an address-spraying client bypass the limiter.
			rl.mu.Unlock()

			return false
		}

		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/secondsPerMinute), rl.perMinute),
		}
		rl.buckets[key] = b
	}

	b.lastAccess = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Close stops the cleanup goroutine.
func (rl *InMemoryRateLimiter) Close() error {
	rl.cleanupTicker.Stop()
	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RateLimit returns a middleware enforcing the limiter on every request.
// Must sit after Authenticate in the chain so authenticated requests are
// keyed by tenant rather than IP. Exceeding the limit yields an RFC 7807
// 429 response.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if tenantCtx, ok := GetTenantContext(r.Context()); ok && tenantCtx.TenantID != "" {
				key = tenantCtx.TenantID
			}

			if !limiter.Allow(key) {
				correlationID := GetCorrelationID(r.Context())

				logger.Warn("request rate limited",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
				)

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write RFC 7807 error response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.Any("error", err),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, tolerating bare addresses.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
