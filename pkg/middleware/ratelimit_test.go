package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(config)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newClockedLimiter(config)

	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("actor:a@co.com") {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	// keys are independent
	assert.True(t, limiter.Allow("actor:b@co.com"))

	clock.Advance(100 * time.Millisecond)
	assert.True(t, limiter.Allow("actor:a@co.com"), "one token refills every 100ms")
	assert.False(t, limiter.Allow("actor:a@co.com"))

	clock.Advance(time.Hour)
	assert.True(t, limiter.Allow("actor:a@co.com"))
	assert.Equal(t, 11, limiter.Remaining("actor:a@co.com"), "refill is capped at capacity")
}

func TestRateLimiter_Take(t *testing.T) {
	limiter, _ := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Second})
	ctx := context.Background()

	res, err := limiter.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Result{Allowed: true, Limit: 2, Remaining: 1}, res)

	res, _ = limiter.Take(ctx, "k")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 500*time.Millisecond, res.ResetAfter)

	res, _ = limiter.Take(ctx, "k")
	assert.False(t, res.Allowed)
	assert.Equal(t, 500*time.Millisecond, res.ResetAfter)
}

func TestRateLimiter_RejectionKeepsCapacity(t *testing.T) {
	limiter, clock := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, _ := limiter.Take(ctx, "k")
		require.True(t, res.Allowed)
	}
	for i := 0; i < 3; i++ {
		res, _ := limiter.Take(ctx, "k")
		require.False(t, res.Allowed)
		assert.Equal(t, 500*time.Millisecond, res.ResetAfter, "rejected takes do not push the reset out")
	}

	clock.Advance(500 * time.Millisecond)
	res, _ := limiter.Take(ctx, "k")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter, _ := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})

	assert.Equal(t, 12, limiter.Remaining("k"))
	limiter.Allow("k")
	assert.Equal(t, 11, limiter.Remaining("k"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second})

	limiter.Allow("old")
	clock.Advance(3 * time.Second)
	limiter.Allow("fresh")
	limiter.Cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.limiters, "old")
	assert.NotContains(t, limiter.lastSeen, "old")
	assert.Contains(t, limiter.limiters, "fresh")
}

func TestRateLimiter_Concurrent(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

type errLimiter struct{}

func (errLimiter) Take(context.Context, string) (Result, error) {
	return Result{}, errors.New("connection refused")
}

type countingRejects struct{ scopes []string }

func (c *countingRejects) RecordRateLimited(scope string) { c.scopes = append(c.scopes, scope) }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	actor := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	rejects := &countingRejects{}

	m := NewRateLimitMiddleware(actor, anon, nil)
	m.SetRecorder(rejects)
	h := m.Handler(okHandler())

	serve := func(email, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/me/role", nil)
		req.RemoteAddr = ip + ":5555"
		if email != "" {
			req = req.WithContext(contextkeys.WithActorEmail(req.Context(), email))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("anonymous by ip", func(t *testing.T) {
		rec := serve("", "10.0.0.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = serve("", "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "rate limit exceeded")

		assert.Equal(t, http.StatusOK, serve("", "10.0.0.2").Code)
	})

	t.Run("actor by email", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve("a@co.com", "10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, serve("a@co.com", "10.0.0.9").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve("a@co.com", "10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, serve("b@co.com", "10.0.0.1").Code)
	})

	assert.Equal(t, []string{"anonymous", "actor"}, rejects.scopes)
}

func TestRateLimitMiddleware_LimiterErrors(t *testing.T) {
	m := NewRateLimitMiddleware(errLimiter{}, errLimiter{}, nil)
	h := m.Handler(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "fails open by default")

	m.SetFallbackEnabled(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	h := NewRateLimitMiddleware(nil, nil, nil).Handler(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.1:80", "198.51.100.4"},
		{"remote with port", nil, "192.0.2.10:43210", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.10", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
