package pgstore

import (
	"context"
	"errors"
	"fmt"

	"escrowhub/pkg/outbox"

	"github.com/jackc/pgx/v5"
)

const outboxColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
	retry_count, next_retry_at, created_at, updated_at`

func scanOutbox(row pgx.Row) (*outbox.Event, error) {
	var e outbox.Event
	var payload []byte
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.RoutingKey, &payload, &e.Status,
		&e.RetryCount, &e.NextRetryAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

func (s *Store) queryOutbox(ctx context.Context, sql string, args ...any) ([]*outbox.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) GetPendingEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.queryOutbox(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at ASC
		LIMIT $1
	`, limit, s.now())
}

func (s *Store) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.queryOutbox(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
}

func (s *Store) GetEventByID(ctx context.Context, eventID string) (*outbox.Event, error) {
	e, err := scanOutbox(s.pool.QueryRow(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, outbox.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox event: %w", err)
	}
	return e, nil
}

func (s *Store) MarkAsSent(ctx context.Context, eventID string) error {
	return s.execOutbox(ctx, `
		UPDATE outbox_events
		SET status = 'sent', next_retry_at = NULL, updated_at = $2
		WHERE id = $1
	`, eventID, s.now())
}

// MarkAsFailed bumps the retry count; the record stays pending with a
// backoff until maxRetries is reached.
func (s *Store) MarkAsFailed(ctx context.Context, eventID string, maxRetries int) error {
	e, err := s.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	now := s.now()
	status, count, next := outbox.NextAttempt(e.RetryCount, maxRetries, now)
	return s.execOutbox(ctx, `
		UPDATE outbox_events
		SET status = $2, retry_count = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1
	`, eventID, status, count, next, now)
}

func (s *Store) ReplayEvent(ctx context.Context, eventID string) error {
	return s.execOutbox(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = $2
		WHERE id = $1
	`, eventID, s.now())
}

func (s *Store) execOutbox(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}
