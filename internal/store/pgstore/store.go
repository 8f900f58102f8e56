// Package pgstore keeps escrow documents in PostgreSQL as JSONB rows.
// Transactions run at SERIALIZABLE isolation; serialization failures and
// stale versions both surface as escrow.ErrConflict.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ escrow.Store      = (*Store)(nil)
	_ outbox.Repository = (*Store)(nil)
)

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("PostgreSQL schema ensured")
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx escrow.Tx) error) (err error) {
	ctx, span := otel.StoreSpan(ctx, "postgresql", "transaction", "escrow")
	start := time.Now()
	defer func() {
		metrics.RecordDBQueryDuration("transaction", "escrow", time.Since(start))
		otel.EndSpan(span, err, nil)
	}()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return translate("begin transaction", err)
	}
	defer pgTx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return translate("commit transaction", err)
	}
	return nil
}

// translate maps pgx errors onto the store sentinels.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, escrow.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", op, escrow.ErrConflict)
		case "23505":
			return fmt.Errorf("%s (%s): %w", op, pgErr.ConstraintName, escrow.ErrDuplicate)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func getDoc[T any](ctx context.Context, q querier, op, sql string, args ...any) (*T, error) {
	var raw []byte
	var version int64
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw, &version); err != nil {
		return nil, translate(op, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", op, err)
	}
	setVersion(&out, version)
	return &out, nil
}

// setVersion makes the row's version column authoritative over the copy
// embedded in the document.
func setVersion(doc any, version int64) {
	switch d := doc.(type) {
	case *model.Payment:
		d.Version = version
	case *model.Contract:
		d.Version = version
	}
}

func listDocs[T any](ctx context.Context, q querier, op, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", op, err)
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", op, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return getDoc[model.Payment](ctx, s.pool, "get payment", `SELECT doc, version FROM payments WHERE id = $1`, id)
}

func (s *Store) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return getDoc[model.Contract](ctx, s.pool, "get contract", `SELECT doc, version FROM contracts WHERE id = $1`, id)
}

func (s *Store) ListContractEvents(ctx context.Context, contractID string) ([]model.ContractEvent, error) {
	return listDocs[model.ContractEvent](ctx, s.pool, "list contract events", `
		SELECT doc FROM contract_events
		WHERE contract_id = $1
		ORDER BY created_at ASC, id ASC
	`, contractID)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return listDocs[model.Notification](ctx, s.pool, "list notifications", `
		SELECT doc FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
}

func (s *Store) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc, version FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, translate("list stale payments", err)
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var raw []byte
		var p model.Payment
		if err := rows.Scan(&raw, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		version := p.Version
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode payment: %w", err)
		}
		p.Version = version
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListAnomalies(ctx context.Context, limit int) ([]model.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	return listDocs[model.Anomaly](ctx, s.pool, "list anomalies", `
		SELECT doc FROM reconciliation_anomalies ORDER BY created_at DESC LIMIT $1
	`, limit)
}

func (s *Store) RecordAnomaly(ctx context.Context, a *model.Anomaly) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode anomaly: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconciliation_anomalies (id, payment_id, doc, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.PaymentID, doc, a.CreatedAt)
	return translate("insert anomaly", err)
}

// MarkNotificationRead matches on the recipient as well as the id, so a
// foreign notification reads as missing. readAt keeps its first value.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE,
		    doc = doc || jsonb_build_object('isRead', TRUE, 'readAt', COALESCE(doc->'readAt', to_jsonb($3::timestamptz)))
		WHERE id = $1 AND user_id = $2
	`, notificationID, userID, at)
	if err != nil {
		return translate("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, escrow.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
