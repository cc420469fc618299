package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DispatchOption tunes a single dispatch call
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	priority    Priority
	delay       time.Duration
	unique      bool
	dedupeKey   string
	maxAttempts int
}

// WithDispatchPriority sets the job's priority class (default NORMAL)
func WithDispatchPriority(p Priority) DispatchOption {
	return func(o *dispatchOptions) {
		o.priority = p
	}
}

// WithDispatchDelay postpones the first run
func WithDispatchDelay(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithUnique schedules the job as unique. An empty key derives one from the hook name and payload.
func WithUnique(key string) DispatchOption {
	return func(o *dispatchOptions) {
		o.unique = true
		o.dedupeKey = key
	}
}

// WithDispatchMaxAttempts overrides the attempt budget of dispatched jobs
func WithDispatchMaxAttempts(n int) DispatchOption {
	return func(o *dispatchOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Dispatcher translates domain calls into queue operations
type Dispatcher struct {
	queue       *Queue
	defaultOpts []DispatchOption
}

// NewDispatcher creates a dispatcher. The given options apply to every call and
// can be overridden per call.
func NewDispatcher(q *Queue, opts ...DispatchOption) (*Dispatcher, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	return &Dispatcher{queue: q, defaultOpts: opts}, nil
}

// Dispatch schedules one job
func (d *Dispatcher) Dispatch(ctx context.Context, hookName string, payload any, opts ...DispatchOption) (uuid.UUID, error) {
	o := d.options(opts)

	var so []ScheduleOption
	if o.maxAttempts > 0 {
		so = append(so, WithJobMaxAttempts(o.maxAttempts))
	}
	if o.dedupeKey != "" {
		so = append(so, WithDedupeKey(o.dedupeKey))
	}

	if o.unique {
		return d.queue.ScheduleUnique(ctx, hookName, payload, o.priority, o.delay, so...)
	}
	return d.queue.Schedule(ctx, hookName, payload, o.priority, o.delay, so...)
}

// BatchPayload is the payload of one chunk produced by DispatchBatch
type BatchPayload[T any] struct {
	Batch        []T `json:"batch"`
	BatchIndex   int `json:"batch_index"`
	TotalBatches int `json:"total_batches"`
}

// DispatchBatch splits items into chunks of batchSize and schedules each chunk as
// an independent job. On failure it returns the IDs scheduled so far with the error.
func DispatchBatch[T any](ctx context.Context, d *Dispatcher, hookName string, items []T, batchSize int, opts ...DispatchOption) ([]uuid.UUID, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if len(items) == 0 {
		return nil, ErrNoItemsToEnqueue
	}

	chunks := Chunk(items, batchSize)
	ids := make([]uuid.UUID, 0, len(chunks))
	for i, chunk := range chunks {
		id, err := d.Dispatch(ctx, hookName, BatchPayload[T]{
			Batch:        chunk,
			BatchIndex:   i,
			TotalBatches: len(chunks),
		}, opts...)
		if err != nil {
			return ids, fmt.Errorf("failed to dispatch batch %d of %d: %w", i+1, len(chunks), err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Chunk partitions items into consecutive slices of at most size elements
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

func (d *Dispatcher) options(opts []DispatchOption) dispatchOptions {
	o := dispatchOptions{priority: PriorityDefault}
	for _, opt := range d.defaultOpts {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
