package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

// DefaultDeadLetterCollection is used when NewDeadLetterStore gets an empty name
const DefaultDeadLetterCollection = "dead_letters"

// DeadLetterStore implements queue.DeadLetterStore on a MongoDB collection.
// It lets dead letters live apart from the job database, e.g. for long retention.
type DeadLetterStore struct {
	coll *mongo.Collection
}

type jobDoc struct {
	ID              string     `bson:"id"`
	HookName        string     `bson:"hook_name"`
	Priority        int        `bson:"priority"`
	Payload         []byte     `bson:"payload"`
	Status          string     `bson:"status"`
	ScheduledAt     time.Time  `bson:"scheduled_at"`
	Attempt         int        `bson:"attempt"`
	MaxAttempts     int        `bson:"max_attempts"`
	LastError       *string    `bson:"last_error,omitempty"`
	DedupeKey       *string    `bson:"dedupe_key,omitempty"`
	Recurring       bool       `bson:"recurring"`
	IntervalSeconds *int       `bson:"interval_seconds,omitempty"`
	LockedUntil     *time.Time `bson:"locked_until,omitempty"`
	ClaimedAt       *time.Time `bson:"claimed_at,omitempty"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

type entryDoc struct {
	ID            string    `bson:"_id"`
	HookName      string    `bson:"hook_name"`
	Job           jobDoc    `bson:"job"`
	FailureReason string    `bson:"failure_reason"`
	FailedAt      time.Time `bson:"failed_at"`
	Status        string    `bson:"status"`
	ReplayCount   int       `bson:"replay_count"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// NewDeadLetterStore creates the store and its indexes
func NewDeadLetterStore(ctx context.Context, db *mongo.Database, collection string) (*DeadLetterStore, error) {
	if db == nil {
		return nil, ErrDatabaseNil
	}
	if collection == "" {
		collection = DefaultDeadLetterCollection
	}

	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "failed_at", Value: -1}}},
		{Keys: bson.D{{Key: "hook_name", Value: 1}, {Key: "failed_at", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create dead letter indexes: %w", err)
	}

	return &DeadLetterStore{coll: coll}, nil
}

// InsertEntry implements queue.DeadLetterStore
func (s *DeadLetterStore) InsertEntry(ctx context.Context, entry *queue.DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead letter entry cannot be nil")
	}
	if _, err := s.coll.InsertOne(ctx, toEntryDoc(entry)); err != nil {
		return fmt.Errorf("insert dead letter entry: %w", err)
	}
	return nil
}

// GetEntry implements queue.DeadLetterStore
func (s *DeadLetterStore) GetEntry(ctx context.Context, id uuid.UUID) (*queue.DeadLetterEntry, error) {
	var doc entryDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, queue.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get dead letter entry: %w", err)
	}
	return fromEntryDoc(doc)
}

// ListEntries implements queue.DeadLetterStore
func (s *DeadLetterStore) ListEntries(ctx context.Context, filter queue.DeadLetterFilter) ([]*queue.DeadLetterEntry, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	} else {
		query["status"] = bson.M{"$in": bson.A{string(queue.EntryStatusPending), string(queue.EntryStatusReplayed)}}
	}
	if filter.HookName != "" {
		query["hook_name"] = filter.HookName
	}

	opts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}

	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}

	entries := make([]*queue.DeadLetterEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := fromEntryDoc(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MarkReplayed implements queue.DeadLetterStore
func (s *DeadLetterStore) MarkReplayed(ctx context.Context, id uuid.UUID, replayCount int, now time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":          id.String(),
			"replay_count": replayCount,
			"status":       bson.M{"$ne": string(queue.EntryStatusDismissed)},
		},
		bson.M{
			"$set": bson.M{"status": string(queue.EntryStatusReplayed), "updated_at": now},
			"$inc": bson.M{"replay_count": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("mark entry replayed: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == queue.EntryStatusDismissed {
		return queue.ErrEntryDismissed
	}
	return queue.ErrReplayConflict
}

// MarkDismissed implements queue.DeadLetterStore
func (s *DeadLetterStore) MarkDismissed(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"status": string(queue.EntryStatusDismissed), "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("mark entry dismissed: %w", err)
	}
	if res.MatchedCount == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

func toEntryDoc(e *queue.DeadLetterEntry) entryDoc {
	j := e.Job
	return entryDoc{
		ID:       e.ID.String(),
		HookName: j.HookName,
		Job: jobDoc{
			ID:              j.ID.String(),
			HookName:        j.HookName,
			Priority:        int(j.Priority),
			Payload:         j.Payload,
			Status:          string(j.Status),
			ScheduledAt:     j.ScheduledAt,
			Attempt:         j.Attempt,
			MaxAttempts:     j.MaxAttempts,
			LastError:       j.LastError,
			DedupeKey:       j.DedupeKey,
			Recurring:       j.Recurring,
			IntervalSeconds: j.IntervalSeconds,
			LockedUntil:     j.LockedUntil,
			ClaimedAt:       j.ClaimedAt,
			CompletedAt:     j.CompletedAt,
			CreatedAt:       j.CreatedAt,
			UpdatedAt:       j.UpdatedAt,
		},
		FailureReason: e.FailureReason,
		FailedAt:      e.FailedAt,
		Status:        string(e.Status),
		ReplayCount:   e.ReplayCount,
		UpdatedAt:     e.UpdatedAt,
	}
}

func fromEntryDoc(d entryDoc) (*queue.DeadLetterEntry, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode entry id: %w", err)
	}
	jobID, err := uuid.Parse(d.Job.ID)
	if err != nil {
		return nil, fmt.Errorf("decode job id: %w", err)
	}

	j := d.Job
	return &queue.DeadLetterEntry{
		ID: id,
		Job: queue.Job{
			ID:              jobID,
			HookName:        j.HookName,
			Priority:        queue.Priority(j.Priority),
			Payload:         j.Payload,
			Status:          queue.JobStatus(j.Status),
			ScheduledAt:     j.ScheduledAt,
			Attempt:         j.Attempt,
			MaxAttempts:     j.MaxAttempts,
			LastError:       j.LastError,
			DedupeKey:       j.DedupeKey,
			Recurring:       j.Recurring,
			IntervalSeconds: j.IntervalSeconds,
			LockedUntil:     j.LockedUntil,
			ClaimedAt:       j.ClaimedAt,
			CompletedAt:     j.CompletedAt,
			CreatedAt:       j.CreatedAt,
			UpdatedAt:       j.UpdatedAt,
		},
		FailureReason: d.FailureReason,
		FailedAt:      d.FailedAt,
		Status:        queue.EntryStatus(d.Status),
		ReplayCount:   d.ReplayCount,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}
