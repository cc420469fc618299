package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/requestid"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, header, value string) (seen string, echoed string) {
	t.Helper()

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if value != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return seen, rec.Header().Get(header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		keep  bool
	}{
		{name: "missing", value: "", keep: false},
		{name: "plain", value: "abc123", keep: true},
		{name: "uuid", value: "550e8400-e29b-41d4-a716-446655440000", keep: true},
		{name: "underscores", value: "ABC-123_xyz", keep: true},
		{name: "spaces", value: "a b", keep: false},
		{name: "markup", value: "<script>", keep: false},
		{name: "too long", value: strings.Repeat("a", 129), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			seen, echoed := serve(t, requestid.Middleware(), requestid.Header, tt.value)
			require.NotEmpty(t, seen)
			assert.Equal(t, seen, echoed)
			if tt.keep {
				assert.Equal(t, tt.value, seen)
			} else {
				assert.NotEqual(t, tt.value, seen)
			}
		})
	}
}

func TestMiddleware_Options(t *testing.T) {
	t.Parallel()

	mw := requestid.Middleware(
		requestid.WithHeader("X-Delivery-ID"),
		requestid.WithGenerator(func() string { return "generated" }))

	seen, echoed := serve(t, mw, "X-Delivery-ID", "delivery-1")
	assert.Equal(t, "delivery-1", seen)
	assert.Equal(t, "delivery-1", echoed)

	seen, _ = serve(t, mw, "X-Delivery-ID", "")
	assert.Equal(t, "generated", seen)
}

func TestContextAndExtractor(t *testing.T) {
	t.Parallel()

	assert.Empty(t, requestid.FromContext(context.Background()))

	_, ok := requestid.LoggerExtractor()(context.Background())
	assert.False(t, ok)

	ctx := requestid.WithContext(context.Background(), "req-1")
	assert.Equal(t, "req-1", requestid.FromContext(ctx))

	attr, ok := requestid.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())
}
