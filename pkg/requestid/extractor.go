package requestid

import (
	"context"
	"log/slog"
)

// LoggerExtractor adds request_id to log records, including those of jobs
// scheduled while handling the request.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if requestID := FromContext(ctx); requestID != "" {
			return slog.String("request_id", requestID), true
		}
		return slog.Attr{}, false
	}
}
