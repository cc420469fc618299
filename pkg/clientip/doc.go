// Package clientip resolves the sender address of inbound requests. The ingest
// server keys its per-sender rate limit on it.
//
//	resolver := clientip.NewResolver(cfg.TrustedIPHeaders...)
//	r.Use(resolver.Middleware)
//	r.Use(ratelimiter.Middleware(limiter, resolver.Key))
//
// Only list headers that your own proxy overwrites. Addresses are normalized so
// "::ffff:10.0.0.1" and "10.0.0.1" share one limit.
package clientip
