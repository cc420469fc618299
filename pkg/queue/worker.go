package queue

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// Worker is an in-process host loop that ticks an executor on a fixed interval.
// Any other scheduler that calls Executor.Tick works just as well.
type Worker struct {
	executor *Executor
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	pollInterval   time.Duration
	maxJobsPerTick int
	logger         *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker around the executor
func NewWorker(executor *Executor, opts ...WorkerOption) (*Worker, error) {
	if executor == nil {
		return nil, ErrQueueNil
	}

	options := &workerOptions{
		pollInterval:       5 * time.Second,
		maxConcurrentTicks: 1,
		maxJobsPerTick:     1,
		logger:             executor.logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		executor:       executor,
		workerID:       uuid.New(),
		sem:            make(chan struct{}, options.maxConcurrentTicks),
		pollInterval:   options.pollInterval,
		maxJobsPerTick: options.maxJobsPerTick,
		logger:         options.logger,
	}, nil
}

// Start begins ticking in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerAlreadyStarted
	}

	if w.executor.registry.Len() == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	go w.run()

	id, hostname, pid := w.WorkerInfo()
	w.logger.Info("worker started",
		slog.String("worker_id", id),
		slog.String("hostname", hostname),
		slog.Int("pid", pid),
		slog.Any("hooks", w.executor.registry.HookNames()),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Int("max_concurrent", cap(w.sem)))

	return nil
}

// Stop cancels polling and waits for in-flight jobs to finish
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.String("worker_id", w.workerID.String()))

	w.wg.Wait()

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.workerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Don't add to the WaitGroup once Stop has started waiting on it
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					w.poll()
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID.String()))
			}
		}
	}
}

// poll ticks the executor until it goes idle or the per-poll job budget is spent.
// Ticks run on a context detached from Stop so a started job finishes and its outcome is recorded.
func (w *Worker) poll() {
	tickCtx := context.WithoutCancel(w.ctx)

	for range w.maxJobsPerTick {
		if w.ctx.Err() != nil {
			return
		}

		res, err := w.executor.Tick(tickCtx)
		if err != nil {
			w.logger.Error("tick failed",
				slog.String("worker_id", w.workerID.String()),
				logger.Error(err))
			return
		}
		if !res.Ran() {
			return
		}
	}
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
