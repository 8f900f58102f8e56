// Package mongostore keeps escrow documents in MongoDB. Every mutation runs
// in a multi-document transaction, so the deployment must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/outbox"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// Collection names are part of the persisted format.
const (
	CollContracts     = "contracts"
	CollPayments      = "payments"
	CollEvents        = "contractEvents"
	CollNotifications = "notifications"
	CollOutbox        = "outboxEvents"
	CollAnomalies     = "reconciliationAnomalies"
)

// writeConflict is the server code for a transaction that lost a race on a
// document.
const writeConflict = 112

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ escrow.Store      = (*Store)(nil)
	_ outbox.Repository = (*Store)(nil)
)

func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the indexes the store relies on for lookups and for
// the funding and provider transaction uniqueness rules.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollContracts: {
			{Keys: bson.D{{Key: "milestones.id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "clientId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "freelancerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollPayments: {
			{
				Keys: bson.D{{Key: "fundingSlot", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("one_active_funding_per_milestone").
					SetPartialFilterExpression(bson.M{"fundingSlot": bson.M{"$exists": true}}),
			},
			{
				Keys: bson.D{{Key: "providerTransactionId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_provider_transaction").
					SetPartialFilterExpression(bson.M{"providerTransactionId": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "milestoneId", Value: 1}}},
		},
		CollEvents: {
			{Keys: bson.D{{Key: "contractId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		CollNotifications: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isRead", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextRetryAt", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		CollAnomalies: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "paymentId", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.coll(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	s.logger.Info("MongoDB indexes ensured")
	return nil
}

// RunInTx runs fn in a snapshot transaction. A lost write race surfaces as
// escrow.ErrConflict; fn's own error is returned unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx escrow.Tx) error) (err error) {
	ctx, span := otel.StoreSpan(ctx, "mongodb", "transaction", "escrow")
	start := time.Now()
	defer func() {
		metrics.RecordDBQueryDuration("transaction", "escrow", time.Since(start))
		otel.EndSpan(span, err, nil)
	}()

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())

	var fnErr error
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txOpts); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if fnErr = fn(sc, &tx{s: s}); fnErr != nil {
			if abortErr := sess.AbortTransaction(context.WithoutCancel(sc)); abortErr != nil {
				s.logger.Warn("Failed to abort transaction", zap.Error(abortErr))
			}
			return fnErr
		}
		if err := sess.CommitTransaction(sc); err != nil {
			return translate("commit transaction", err)
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// translate maps driver errors onto the store sentinels.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, escrow.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, escrow.ErrDuplicate)
	case isWriteConflict(err):
		return fmt.Errorf("%s: %w", op, escrow.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isWriteConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == writeConflict {
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == writeConflict {
				return true
			}
		}
	}
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError")
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return findPayment(ctx, s.coll(CollPayments), bson.M{"_id": id})
}

func (s *Store) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return findContract(ctx, s.coll(CollContracts), bson.M{"_id": id})
}

func (s *Store) ListContractEvents(ctx context.Context, contractID string) ([]model.ContractEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	var out []model.ContractEvent
	if err := findAll(ctx, s.coll(CollEvents), bson.M{"contractId": contractID}, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	filter := bson.M{"userId": userID}
	if unreadOnly {
		filter["isRead"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var out []model.Notification
	if err := findAll(ctx, s.coll(CollNotifications), filter, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error) {
	filter := bson.M{"status": model.PaymentPending, "createdAt": bson.M{"$lt": createdBefore}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var docs []paymentDoc
	if err := findAll(ctx, s.coll(CollPayments), filter, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Payment, len(docs))
	for i := range docs {
		out[i] = docs[i].Payment
	}
	return out, nil
}

func (s *Store) ListAnomalies(ctx context.Context, limit int) ([]model.Anomaly, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var out []model.Anomaly
	if err := findAll(ctx, s.coll(CollAnomalies), bson.M{}, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecordAnomaly(ctx context.Context, a *model.Anomaly) error {
	if _, err := s.coll(CollAnomalies).InsertOne(ctx, a); err != nil {
		return translate("insert anomaly", err)
	}
	return nil
}

// MarkNotificationRead matches on the recipient as well as the id, so a
// foreign notification reads as missing.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	res, err := s.coll(CollNotifications).UpdateOne(ctx,
		bson.M{"_id": notificationID, "userId": userID},
		bson.A{bson.M{"$set": bson.M{
			"isRead": true,
			"readAt": bson.M{"$ifNull": bson.A{"$readAt", at}},
		}}},
	)
	if err != nil {
		return translate("mark notification read", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, escrow.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func findAll(ctx context.Context, coll *mongo.Collection, filter interface{}, opts *options.FindOptions, out interface{}) error {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return translate("query "+coll.Name(), err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll.Name(), err)
	}
	return nil
}
