package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// RateLimiter caps how many jobs of a priority class start per window.
// CheckAndIncrement must check and count in one atomic step.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, class int) (bool, error)
}

// ExecutorOption is a functional option for configuring an executor
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	limiter   RateLimiter
	classes   []Priority
	heartbeat time.Duration
	logger    *slog.Logger
}

// WithRateLimiter throttles claims per priority class
func WithRateLimiter(l RateLimiter) ExecutorOption {
	return func(o *executorOptions) {
		o.limiter = l
	}
}

// WithClasses restricts the executor to the given priority classes
func WithClasses(classes ...Priority) ExecutorOption {
	return func(o *executorOptions) {
		valid := make([]Priority, 0, len(classes))
		for _, p := range classes {
			if p.Valid() && !slices.Contains(valid, p) {
				valid = append(valid, p)
			}
		}
		if len(valid) > 0 {
			o.classes = valid
		}
	}
}

// WithHeartbeatInterval sets how often a running job's lease is renewed.
// Defaults to a third of the queue's lease duration.
func WithHeartbeatInterval(d time.Duration) ExecutorOption {
	return func(o *executorOptions) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithExecutorLogger sets the logger for the executor
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(o *executorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// TickResult describes what a single tick did
type TickResult struct {
	// Job is the job that ran, nil when the tick found nothing to run.
	Job *Job
	// Outcome is the handler's result class.
	Outcome Outcome
	// Status is the state the job was left in.
	Status JobStatus
	// Err is the handler's error, if any.
	Err error
	// Deferred lists classes whose claim was denied by the rate limiter.
	Deferred []Priority
	// Duration is the handler's run time.
	Duration time.Duration
}

// Ran reports whether the tick executed a job
func (r *TickResult) Ran() bool {
	return r != nil && r.Job != nil
}

// Executor claims due jobs and runs them through the handler registry
type Executor struct {
	queue     *Queue
	registry  *Registry
	limiter   RateLimiter
	classes   []Priority
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewExecutor creates an executor for the queue and registry
func NewExecutor(q *Queue, registry *Registry, opts ...ExecutorOption) (*Executor, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if registry == nil {
		return nil, ErrNoHandlers
	}

	o := &executorOptions{
		classes:   Priorities(),
		heartbeat: q.leaseDuration / 3,
		logger:    q.logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Executor{
		queue:     q,
		registry:  registry,
		limiter:   o.limiter,
		classes:   o.classes,
		heartbeat: o.heartbeat,
		logger:    o.logger,
	}, nil
}

// Registry returns the executor's handler registry
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Tick recovers expired leases, then claims and runs at most one job.
// A class denied by the rate limiter is skipped for the rest of the tick and its
// job is released without an attempt penalty. The returned error reports store
// failures; handler failures are recorded on the job and described in the result.
func (e *Executor) Tick(ctx context.Context) (*TickResult, error) {
	if n, err := e.queue.ReapExpired(ctx); err != nil {
		e.logger.ErrorContext(ctx, "failed to reap expired jobs", logger.Error(err))
	} else if n > 0 {
		e.logger.InfoContext(ctx, "reaped expired jobs", slog.Int("count", n))
	}

	res := &TickResult{}
	allowed := slices.Clone(e.classes)

	for len(allowed) > 0 {
		job, err := e.queue.Claim(ctx, allowed...)
		if err != nil {
			if errors.Is(err, ErrNoJobToClaim) {
				return res, nil
			}
			return res, err
		}

		if e.limiter != nil {
			ok, err := e.limiter.CheckAndIncrement(ctx, int(job.Priority))
			if err != nil {
				e.release(ctx, job)
				return res, fmt.Errorf("failed to check rate limit for priority %d: %w", job.Priority, err)
			}
			if !ok {
				e.release(ctx, job)
				res.Deferred = append(res.Deferred, job.Priority)
				allowed = slices.DeleteFunc(allowed, func(p Priority) bool { return p == job.Priority })

				e.logger.DebugContext(ctx, "rate limit reached, job deferred",
					logger.JobID(job.ID),
					logger.HookName(job.HookName),
					logger.Priority(int(job.Priority)))
				continue
			}
		}

		res.Job = job
		return res, e.execute(ctx, job, res)
	}

	return res, nil
}

// execute runs the job's handler under a renewed lease and records the outcome.
// Recording is detached from ctx cancellation so a claimed job never stays running.
func (e *Executor) execute(ctx context.Context, job *Job, res *TickResult) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopHeartbeat := e.keepLease(runCtx, cancel, job)

	start := time.Now()
	handlerErr := e.run(runCtx, job)
	res.Duration = time.Since(start)
	stopHeartbeat()
	res.Err = handlerErr
	res.Outcome = Classify(handlerErr)

	recordCtx := context.WithoutCancel(ctx)

	switch res.Outcome {
	case OutcomeSuccess:
		if err := e.queue.Complete(recordCtx, job); err != nil {
			res.Status = JobStatusRunning
			return e.recordFailed(ctx, job, err)
		}
		res.Status = JobStatusCompleted

		e.logger.InfoContext(ctx, "job completed",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Priority(int(job.Priority)),
			logger.Duration(res.Duration))

	case OutcomeFatal:
		if err := e.queue.Kill(recordCtx, job, handlerErr.Error()); err != nil {
			res.Status = JobStatusRunning
			return e.recordFailed(ctx, job, err)
		}
		res.Status = JobStatusDead

		e.logger.ErrorContext(ctx, "job failed permanently",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Attempt(job.Attempt+1),
			logger.Duration(res.Duration),
			logger.Error(handlerErr))

	default:
		status, err := e.queue.Retry(recordCtx, job, handlerErr.Error())
		res.Status = status
		if err != nil {
			return e.recordFailed(ctx, job, err)
		}

		e.logger.WarnContext(ctx, "job failed",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Attempt(job.Attempt+1),
			slog.String("status", string(status)),
			logger.Duration(res.Duration),
			logger.Error(handlerErr))
	}

	return nil
}

// keepLease renews the job's lease every heartbeat until stop is called.
// The handler context is cancelled with ErrLeaseLost when the claim is gone or
// the lease ran out without a successful renewal.
func (e *Executor) keepLease(ctx context.Context, cancel context.CancelCauseFunc, job *Job) (stop func()) {
	deadline := e.queue.now().Add(e.queue.leaseDuration)
	if job.LockedUntil != nil {
		deadline = *job.LockedUntil
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			until, err := e.queue.ExtendLease(ctx, job)
			if err == nil {
				deadline = until
				continue
			}

			if errors.Is(err, ErrJobNotRunning) || errors.Is(err, ErrJobNotFound) {
				e.logger.WarnContext(ctx, "job lease lost, cancelling handler",
					logger.JobID(job.ID),
					logger.HookName(job.HookName))
				cancel(ErrLeaseLost)
				return
			}

			e.logger.ErrorContext(ctx, "failed to extend job lease",
				logger.JobID(job.ID),
				logger.HookName(job.HookName),
				logger.Error(err))
			if !e.queue.now().Before(deadline) {
				cancel(ErrLeaseLost)
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// run unwraps the payload and invokes the handler, turning panics into transient failures
func (e *Executor) run(ctx context.Context, job *Job) (err error) {
	u, err := UnwrapPayloadCompat(job.Payload)
	if err != nil {
		return err
	}

	h, ok := e.registry.Lookup(job.HookName)
	if !ok {
		e.logger.ErrorContext(ctx, "no handler registered for hook",
			logger.JobID(job.ID),
			logger.HookName(job.HookName))
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, job.HookName)
	}

	// Stored columns are authoritative over whatever the envelope carried
	ctx = WithJobInfo(ctx, JobInfo{
		ID:          job.ID,
		HookName:    job.HookName,
		Priority:    job.Priority,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Recurring:   job.Recurring,
		Meta:        metaForJob(job),
		Legacy:      u.Legacy,
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
			e.logger.ErrorContext(ctx, "handler panicked",
				logger.JobID(job.ID),
				logger.HookName(job.HookName),
				slog.Any("panic", r))
		}
	}()

	return h.Handle(ctx, u.Args)
}

func (e *Executor) release(ctx context.Context, job *Job) {
	if err := e.queue.Release(context.WithoutCancel(ctx), job); err != nil {
		// The lease runs out and the reaper picks the job up again
		e.logger.ErrorContext(ctx, "failed to release deferred job",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Error(err))
	}
}

func (e *Executor) recordFailed(ctx context.Context, job *Job, err error) error {
	if errors.Is(err, ErrJobNotRunning) {
		e.logger.WarnContext(ctx, "job outcome discarded, claim no longer held",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Attempt(job.Attempt))
	} else {
		e.logger.ErrorContext(ctx, "failed to record job outcome",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			logger.Error(err))
	}
	return err
}
