package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event is a message waiting to be published. It is written in the same
// store transaction as the state change it describes.
type Event struct {
	ID            string          `json:"id" bson:"_id"`
	AggregateType string          `json:"aggregateType" bson:"aggregateType"`
	AggregateID   string          `json:"aggregateId" bson:"aggregateId"`
	RoutingKey    string          `json:"routingKey" bson:"routingKey"`
	Payload       json.RawMessage `json:"payload" bson:"payload"`
	Status        string          `json:"status" bson:"status"`
	RetryCount    int             `json:"retryCount" bson:"retryCount"`
	NextRetryAt   *time.Time      `json:"nextRetryAt,omitempty" bson:"nextRetryAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Repository is implemented by every store backend.
type Repository interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID string) error
	MarkAsFailed(ctx context.Context, eventID string, maxRetries int) error
	GetEventByID(ctx context.Context, eventID string) (*Event, error)
	ReplayEvent(ctx context.Context, eventID string) error
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload interface{}) error
}

// NextAttempt computes the state after a failed publish: linear backoff of
// 5s per attempt, and "failed" once maxRetries is reached.
func NextAttempt(retryCount, maxRetries int, now time.Time) (status string, count int, nextRetryAt *time.Time) {
	count = retryCount + 1
	if count >= maxRetries {
		return StatusFailed, count, nil
	}
	next := now.Add(time.Duration(count) * 5 * time.Second)
	return StatusPending, count, &next
}

// Due reports whether a pending event may be published at now.
func (e *Event) Due(now time.Time) bool {
	return e.Status == StatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
}
