// Package queue provides a durable priority job queue with retries, backoff and a
// dead letter queue, backed by any storage engine that implements Repository.
//
// The package is organised around a handful of components:
//
//   - Queue: persists jobs, exposes the atomic claim and records outcomes
//   - Dispatcher: ergonomic entry point for domain code, including batch chunking
//   - Executor: claims one due job per tick and runs it through a Registry
//   - Worker: optional in-process loop that ticks an Executor
//   - DeadLetterQueue: list, replay and dismiss jobs that failed for good
//
// # Lifecycle
//
// A job starts pending and becomes eligible at ScheduledAt. A claim moves it to
// running under a lease. The handler's result then decides what happens:
//
//	pending →(claim)→ running → completed
//	                          → pending (attempt+1, backoff)
//	                          → dead (attempts exhausted or fatal)
//
// Recurring jobs are re-enqueued by the queue on success; handlers know nothing
// about recurrence. A running job whose lease expired is treated as a transient
// failure by the next tick.
//
// # Ordering
//
// Claims take the lowest priority number first and are FIFO by ScheduledAt within
// a class. To keep sustained urgent load from starving lower classes, a waiting
// job gains one class per AgingInterval; WithAgingInterval(0) gives strict
// precedence.
//
// # Handlers
//
// Handlers receive the unwrapped args of the job's payload and return an error:
//
//	registry := queue.NewRegistry()
//	registry.MustRegister("sync_product", queue.NewHandler(
//	    func(ctx context.Context, args SyncProduct) error {
//	        if args.ProductID == 0 {
//	            return queue.Fatal("missing product id")
//	        }
//	        return catalog.Sync(ctx, args.ProductID) // plain errors are retried
//	    },
//	))
//
// # Payloads
//
// Payloads are stored as a versioned envelope:
//
//	{"_version": 2, "_meta": {"priority": 3, ...}, "args": {...}}
//
// Bare argument maps without "_version" are accepted as legacy payloads and
// normalized with NORMAL priority and attempt 0. See UnwrapPayloadCompat.
//
// # Storage
//
// MemoryStorage implements every store interface for tests and local development.
// The pgstore package provides the PostgreSQL implementation.
package queue
