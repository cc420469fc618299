// Package mongo connects jobq to MongoDB and provides a dead letter store that
// keeps failed jobs outside the job database.
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	dlq, err := mongo.NewDeadLetterStore(ctx, db, "")
//	if err != nil {
//	    return err
//	}
//	q, err := queue.New(repo, queue.WithDeadLetterStore(dlq))
//
// Job payloads are stored as BSON binary so a replay re-enqueues the exact
// bytes that failed. New retries the connection and gives up early when ctx is
// cancelled; Healthcheck returns a probe for readiness endpoints.
package mongo
