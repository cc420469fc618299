package queue

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// JobInfo describes the job a handler is running
type JobInfo struct {
	ID          uuid.UUID
	HookName    string
	Priority    Priority
	Attempt     int
	MaxAttempts int
	Recurring   bool
	Meta        EnvelopeMeta
	Legacy      bool
}

type jobInfoKey struct{}

// WithJobInfo stores job information in the context
func WithJobInfo(ctx context.Context, info JobInfo) context.Context {
	return context.WithValue(ctx, jobInfoKey{}, info)
}

// JobInfoFromContext returns the running job's information, if any
func JobInfoFromContext(ctx context.Context) (JobInfo, bool) {
	if ctx == nil {
		return JobInfo{}, false
	}
	info, ok := ctx.Value(jobInfoKey{}).(JobInfo)
	return info, ok
}

// LogExtractor adds the running job's ID and hook name to log records.
// Its signature matches logger.ContextExtractor.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	info, ok := JobInfoFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("job",
		slog.String("id", info.ID.String()),
		slog.String("hook_name", info.HookName),
		slog.Int("attempt", info.Attempt),
	), true
}
