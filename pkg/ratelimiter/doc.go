// Package ratelimiter implements token bucket rate limiting with in-memory
// and Redis stores and HTTP middleware.
//
// A bucket holds up to Capacity tokens and regains RefillRate tokens every
// RefillInterval. Each request takes one token; a request that drives the
// count below zero is denied.
//
//	limiter, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(rdb, "hearth:rl:"), cfg)
//	r.With(ratelimiter.Middleware(limiter, byIP)).Post("/trial-signup", h)
package ratelimiter
