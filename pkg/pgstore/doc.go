// Package pgstore is the PostgreSQL backend for jobq.
//
// A single Store implements queue.Repository, queue.DeadLetterStore and
// queue.DeadLetterMover, so escalating a job to the dead letter queue is one
// transaction. It also implements ratelimiter.Store and idempotency.Store, which
// lets every worker and ingest replica share limits and claims through the same
// database.
//
//	pool, _ := pg.Connect(ctx, cfg.Postgres)
//	_ = pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg.Postgres, log)
//	store, _ := pgstore.New(pool)
//	q, _ := queue.New(store)
//
// Claims use UPDATE ... FOR UPDATE SKIP LOCKED, so concurrent workers never pick
// the same row. Payloads are stored as BYTEA and come back byte for byte.
package pgstore
