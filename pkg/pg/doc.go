// Package pg connects jobq to PostgreSQL through a pgx/v5 pool and applies goose
// migrations.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
//	    return err
//	}
//
// Connect retries with a linearly growing wait (RetryInterval, 2x, 3x, ...) and
// gives up early when ctx is cancelled. Migrations are read from an fs.FS so the
// schema ships inside the binary.
//
// Error helpers such as IsDuplicateKeyError and IsNotFoundError classify pgx
// errors without leaking driver types to callers. Healthcheck returns a probe
// for readiness endpoints.
package pg
