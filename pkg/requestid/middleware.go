package requestid

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	// Header is the default request ID header
	Header      = "X-Request-ID"
	maxIDLength = 128
)

type options struct {
	header   string
	generate func() string
}

// Option configures Middleware
type Option func(*options)

// WithHeader reads and echoes the ID under a different header, e.g. a
// provider's delivery ID header.
func WithHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.header = name
		}
	}
}

// WithGenerator replaces the UUIDv4 generator used for missing or invalid IDs
func WithGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.generate = fn
		}
	}
}

// Middleware reuses a well-formed incoming ID or generates one, stores it in the
// request context and echoes it in the response.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	o := options{header: Header, generate: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(o.header)
			if !valid(requestID) {
				requestID = o.generate()
			}
			w.Header().Set(o.header, requestID)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requestID)))
		})
	}
}

// valid accepts 1..128 characters of [A-Za-z0-9_-], which keeps IDs safe to log
func valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
