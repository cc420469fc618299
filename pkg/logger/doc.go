// Package logger builds the process-wide *slog.Logger and holds the attribute
// helpers that keep key names consistent across jobq.
//
// New creates a JSON or text slog handler and wraps it in LogHandlerDecorator,
// which runs every registered ContextExtractor when a record is written. The
// queue registers queue.LogExtractor so any log line written inside a handler
// carries the running job:
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Production, "jobq"),
//	    logger.WithContextExtractors(queue.LogExtractor, requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "product synced", logger.HookName("sync_product"))
//
// Level and format can be overridden with LOG_LEVEL and LOG_FORMAT through
// Config.
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("done", logger.Error(err))
//
// needs no nil check.
package logger
