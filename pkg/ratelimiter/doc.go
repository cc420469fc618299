// Package ratelimiter provides fixed window rate limiting with pluggable storage,
// a per-priority-class limiter for the job executor and HTTP middleware.
//
// A window is a Window-aligned interval (for a one minute window, each calendar
// minute). Every key may be hit at most Limit times per window. The check and the
// increment happen in one atomic store operation, so concurrent callers sharing a
// store can never both pass the last free slot.
//
// # Priority classes
//
// PriorityLimiter caps how many jobs of each priority class start per window:
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.NewPriorityLimiter(store, nil, time.Minute)
//	if err != nil {
//		return err
//	}
//
//	ok, err := limiter.CheckAndIncrement(ctx, 3)
//	if err != nil {
//		return err
//	}
//	if !ok {
//		// class 3 is exhausted until the next minute; not an error
//	}
//
// Defaults are 1000, 100, 50, 20 and 10 starts per minute for classes 1 to 5.
// Overrides can be loaded from YAML with LoadLimits. A limit of zero closes a class.
//
// # HTTP Middleware
//
//	window, _ := ratelimiter.NewWindow(store, ratelimiter.Config{Limit: 60, Window: time.Minute})
//	handler := ratelimiter.Middleware(window, func(r *http.Request) string {
//		return r.Header.Get("X-Sender")
//	})(next)
//
// The middleware sets X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset
// and, when denying, Retry-After. Composite joins several key functions and hashes
// keys longer than 64 characters with FNV-1a.
//
// # Storage
//
// MemoryStore keeps counters in process memory and drops finished windows in the
// background. The redis and pgstore packages provide shared stores for multiple
// processes.
package ratelimiter
