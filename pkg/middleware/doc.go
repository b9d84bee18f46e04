// Package middleware provides the HTTP middleware that runs in front of the
// access control API: request IDs, caller identity and rate limiting.
//
// # Request IDs
//
// RequestID reuses an inbound X-Request-ID or generates a UUID, echoes it on the
// response, and stores it with the logger in the request context so audit
// events and log lines can be correlated.
//
//	router.Use(middleware.RequestID(logger))
//
// # Identity
//
// The service sits behind an authenticating proxy that sets the caller's
// verified email in a header. Identity copies it into the context where
// rbac handlers read it.
//
//	router.Use(middleware.Identity(middleware.IdentityConfig{Required: true}))
//
// # Rate Limiting
//
// Authenticated callers are limited per email, everyone else per client IP.
// RateLimiter keeps a golang.org/x/time/rate limiter per key in process;
// DistributedRateLimiter shares a fixed window across instances through Redis.
//
//	rl := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(client, middleware.PerActorRateLimitConfig(), "drivewatch:rl:actor"),
//		middleware.NewDistributedRateLimiter(client, middleware.DefaultRateLimitConfig(), "drivewatch:rl:anon"),
//		logger,
//	)
//	router.Use(rl.Handler)
//
// Defaults: anonymous 100 req/min with a burst of 10, authenticated 1000
// req/min with a burst of 50. Limiter errors fail open unless
// SetFallbackEnabled(false) is called.
package middleware
