package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter_Take(t *testing.T) {
	mr, client := setupMiniredis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := limiter.Take(ctx, "actor:a@co.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, 3, res.Limit)
		assert.Greater(t, res.ResetAfter, time.Duration(0))
	}

	res, err := limiter.Take(ctx, "actor:a@co.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	assert.True(t, mr.Exists("test:actor:a@co.com"))
	assert.Equal(t, time.Minute, mr.TTL("test:actor:a@co.com"))

	mr.FastForward(time.Minute + time.Second)
	res, err = limiter.Take(ctx, "actor:a@co.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window after expiry")
}

func TestDistributedRateLimiter_RestoresMissingExpiry(t *testing.T) {
	mr, client := setupMiniredis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	require.NoError(t, mr.Set("drivewatch:ratelimit:ip:10.0.0.1", "4"))

	res, err := limiter.Take(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 5, 10-res.Remaining)
	assert.Equal(t, time.Minute, mr.TTL("drivewatch:ratelimit:ip:10.0.0.1"))
}

func TestDistributedRateLimiter_RemainingAndReset(t *testing.T) {
	_, client := setupMiniredis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, "rl")
	ctx := context.Background()

	n, err := limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	limiter.Take(ctx, "k")
	limiter.Take(ctx, "k")
	n, err = limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, limiter.Reset(ctx, "k"))
	n, _ = limiter.Remaining(ctx, "k")
	assert.Equal(t, 5, n)

	assert.NoError(t, limiter.HealthCheck(ctx))
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	limiter := NewDistributedRateLimiter(client, nil, "")
	mr.Close()

	_, err = limiter.Take(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis error")
	assert.Error(t, limiter.HealthCheck(context.Background()))
}

func TestRateLimitMiddleware_Distributed(t *testing.T) {
	_, client := setupMiniredis(t)
	actor := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "rl:actor")
	anon := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "rl:anon")
	h := NewRateLimitMiddleware(actor, anon, nil).Handler(okHandler())

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(contextkeys.WithActorEmail(req.Context(), "a@co.com"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := serve()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := serve()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}
