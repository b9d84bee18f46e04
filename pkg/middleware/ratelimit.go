package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate. Ignored by the Redis limiter.
	BurstSize int
}

// DefaultRateLimitConfig returns limits for unauthenticated callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerActorRateLimitConfig returns limits for authenticated callers
func PerActorRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Result describes one rate limit check
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is how long until the caller regains capacity
	ResetAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Take(ctx context.Context, key string) (Result, error)
}

// RateLimiter keeps one token bucket per key in process. Each bucket refills
// at RequestsPerWindow per WindowDuration and holds RequestsPerWindow+BurstSize.
type RateLimiter struct {
	config   *RateLimitConfig
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:   config,
		limit:    rate.Limit(float64(config.RequestsPerWindow) / config.WindowDuration.Seconds()),
		burst:    config.RequestsPerWindow + config.BurstSize,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// limiterFor returns the bucket for key, creating it full. Callers hold mu.
func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	rl.lastSeen[key] = now
	return l
}

// Take consumes one token for key
func (rl *RateLimiter) Take(_ context.Context, key string) (Result, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	l := rl.limiterFor(key, now)

	res := Result{Limit: rl.config.RequestsPerWindow}
	res.Allowed = l.AllowN(now, 1)

	tokens := l.TokensAt(now)
	if tokens > 0 {
		res.Remaining = int(tokens)
	}
	if tokens < 1 {
		// reserve only to learn the wait, then hand the token back
		r := l.ReserveN(now, 1)
		if r.OK() {
			res.ResetAfter = r.DelayFrom(now)
			r.CancelAt(now)
		}
	}
	return res, nil
}

// Allow reports whether a request for key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	res, _ := rl.Take(context.Background(), key)
	return res.Allowed
}

// Remaining returns the number of whole tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, exists := rl.limiters[key]
	if !exists {
		return rl.burst
	}
	if tokens := l.TokensAt(rl.now()); tokens > 0 {
		return int(tokens)
	}
	return 0
}

// Cleanup evicts keys idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)
	for key, last := range rl.lastSeen {
		if last.Before(cutoff) {
			delete(rl.limiters, key)
			delete(rl.lastSeen, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RejectRecorder counts rejected requests; *observability.Metrics satisfies it
type RejectRecorder interface {
	RecordRateLimited(scope string)
}

// RateLimitMiddleware limits authenticated callers by email and everyone
// else by client IP, each against its own Limiter.
type RateLimitMiddleware struct {
	actorLimiter     Limiter
	anonymousLimiter Limiter
	recorder         RejectRecorder
	logger           *observability.Logger
	failOpen         bool
}

// NewRateLimitMiddleware creates the middleware. It fails open on limiter errors
// until SetFallbackEnabled(false) is called.
func NewRateLimitMiddleware(actor, anonymous Limiter, logger *observability.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimitMiddleware{
		actorLimiter:     actor,
		anonymousLimiter: anonymous,
		logger:           logger.WithField("component", "rate_limit"),
		failOpen:         true,
	}
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on limiter errors
func (m *RateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.failOpen = enabled
}

// SetRecorder counts rejected requests
func (m *RateLimitMiddleware) SetRecorder(r RejectRecorder) {
	m.recorder = r
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, key, limiter := "anonymous", "ip:"+clientIP(r), m.anonymousLimiter
		if actor := contextkeys.GetActorEmail(ctx); actor != "" {
			scope, key, limiter = "actor", "actor:"+actor, m.actorLimiter
		}
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		res, err := limiter.Take(ctx, key)
		if err != nil {
			observability.FromContext(ctx).WithError(err).WithField("scope", scope).Warn("rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			writeJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}

		setRateLimitHeaders(w, res)
		if !res.Allowed {
			if m.recorder != nil {
				m.recorder.RecordRateLimited(scope)
			}
			retryAfter := int(res.ResetAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
	if res.ResetAfter > 0 {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(res.ResetAfter).Unix()))
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
