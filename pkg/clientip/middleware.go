package clientip

import "net/http"

// Middleware resolves the client address once and stores it in the request context
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(WithContext(req.Context(), r.IP(req))))
	})
}

// Key is a rate limit key function: the address stored by Middleware, or a
// fresh resolution when the middleware did not run.
func (r *Resolver) Key(req *http.Request) string {
	if ip := FromContext(req.Context()); ip != "" {
		return ip
	}
	return r.IP(req)
}
