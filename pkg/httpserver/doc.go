// Package httpserver runs the jobq HTTP surface: the ingest endpoint and the
// health probes.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns once ctx is cancelled and in-flight requests have drained within
// the shutdown timeout. Handlers receive a base context that carries the values
// of ctx but not its cancellation, so a shutdown does not abort requests that
// are already scheduling jobs.
//
// LivenessHandler and ReadinessHandler answer JSON; readiness runs named checks
// such as pg.Healthcheck and redis.Healthcheck.
package httpserver
