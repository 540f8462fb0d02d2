package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(perMinute int) *InMemoryRateLimiter {
	return NewInMemoryRateLimiter(&RateLimitConfig{
		PerMinute:       perMinute,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Hour,
		MaxEntries:      10,
	})
}

func TestAllowEnforcesPerKeyBudget(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := newTestLimiter(5)
	defer func() {
		_ = limiter.Close()
	}()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("tenant-a") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}

	if limiter.Allow("tenant-a") {
		t.Error("request beyond burst was allowed")
	}

	// Another key has its own bucket.
	if !limiter.Allow("tenant-b") {
		t.Error("independent key was denied")
	}
}

func TestAllowRefusesWhenTableFull(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := newTestLimiter(5)
	defer func() {
		_ = limiter.Close()
	}()

	for i := 0; i < 10; i++ {
		limiter.Allow(string(rune('a' + i)))
	}

	if limiter.Allow("one-too-many") {
		t.Error("new key allowed past MaxEntries")
	}
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := newTestLimiter(5)
	defer func() {
		_ = limiter.Close()
	}()

	limiter.Allow("tenant-a")

	limiter.mu.Lock()
	limiter.buckets["tenant-a"].lastAccess = time.Now().Add(-2 * time.Hour)
	limiter.mu.Unlock()

	limiter.cleanup()

	limiter.mu.Lock()
	_, ok := limiter.buckets["tenant-a"]
	limiter.mu.Unlock()

	if ok {
		t.Error("idle bucket survived cleanup")
	}
}

func TestRateLimitMiddlewareKeysByTenantThenIP(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := newTestLimiter(1)
	defer func() {
		_ = limiter.Close()
	}()

	handler := RateLimit(limiter, testLogger())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	// Authenticated: keyed by tenant regardless of source address.
	send := func(tenantID, remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/query/records", nil)
		req.RemoteAddr = remoteAddr

		if tenantID != "" {
			req = req.WithContext(SetTenantContext(req.Context(), TenantContext{TenantID: tenantID}))
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	if got := send("tenant-a", "10.0.0.1:1234"); got != http.StatusOK {
		t.Fatalf("first tenant request status = %d", got)
	}

	if got := send("tenant-a", "10.0.0.2:1234"); got != http.StatusTooManyRequests {
		t.Errorf("second tenant request status = %d, want 429", got)
	}

	// Unauthenticated: keyed by IP.
	if got := send("", "10.0.0.3:1234"); got != http.StatusOK {
		t.Errorf("first IP request status = %d", got)
	}

	if got := send("", "10.0.0.3:9999"); got != http.StatusTooManyRequests {
		t.Errorf("second IP request status = %d, want 429", got)
	}
}
