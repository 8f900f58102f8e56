package mongostore

import (
	"context"
	"errors"
	"fmt"

	"escrowhub/pkg/outbox"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) listOutbox(ctx context.Context, filter bson.M, limit int) ([]*outbox.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var docs []outboxDoc
	if err := findAll(ctx, s.coll(CollOutbox), filter, opts, &docs); err != nil {
		return nil, err
	}
	events := make([]*outbox.Event, len(docs))
	for i := range docs {
		events[i] = docs[i].event()
	}
	return events, nil
}

func (s *Store) GetPendingEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.listOutbox(ctx, bson.M{
		"status": outbox.StatusPending,
		"$or": bson.A{
			bson.M{"nextRetryAt": bson.M{"$exists": false}},
			bson.M{"nextRetryAt": bson.M{"$lte": s.now()}},
		},
	}, limit)
}

func (s *Store) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.listOutbox(ctx, bson.M{"status": outbox.StatusFailed}, limit)
}

func (s *Store) GetEventByID(ctx context.Context, eventID string) (*outbox.Event, error) {
	var doc outboxDoc
	err := s.coll(CollOutbox).FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, outbox.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox event: %w", err)
	}
	return doc.event(), nil
}

func (s *Store) MarkAsSent(ctx context.Context, eventID string) error {
	return s.updateOutbox(ctx, eventID, bson.M{
		"$set":   bson.M{"status": outbox.StatusSent, "updatedAt": s.now()},
		"$unset": bson.M{"nextRetryAt": ""},
	})
}

func (s *Store) MarkAsFailed(ctx context.Context, eventID string, maxRetries int) error {
	e, err := s.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	now := s.now()
	status, count, next := outbox.NextAttempt(e.RetryCount, maxRetries, now)
	update := bson.M{"$set": bson.M{"status": status, "retryCount": count, "updatedAt": now}}
	if next != nil {
		update["$set"].(bson.M)["nextRetryAt"] = *next
	} else {
		update["$unset"] = bson.M{"nextRetryAt": ""}
	}
	return s.updateOutbox(ctx, eventID, update)
}

// ReplayEvent puts a record back in the pending queue with a fresh retry
// budget.
func (s *Store) ReplayEvent(ctx context.Context, eventID string) error {
	return s.updateOutbox(ctx, eventID, bson.M{
		"$set":   bson.M{"status": outbox.StatusPending, "retryCount": 0, "updatedAt": s.now()},
		"$unset": bson.M{"nextRetryAt": ""},
	})
}

func (s *Store) updateOutbox(ctx context.Context, eventID string, update bson.M) error {
	res, err := s.coll(CollOutbox).UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", eventID, err)
	}
	if res.MatchedCount == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}
