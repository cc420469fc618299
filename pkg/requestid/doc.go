// Package requestid correlates log records of one inbound request.
//
// Middleware reuses a well-formed X-Request-ID header (1-128 characters of
// letters, digits, '-' and '_') or generates a UUIDv4, stores it in the request
// context and echoes it back. LoggerExtractor plugs into
// logger.WithContextExtractors so every record logged during the request,
// including the queue's "job scheduled" line, carries request_id.
//
//	r.Use(requestid.Middleware())
package requestid
