package escrow

import (
	"context"
	"time"

	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"
)

// Store is the document store. Every mutation happens inside RunInTx; the
// backend detects conflicting concurrent transactions and reports them as
// ErrConflict. RunInTx returns fn's error unchanged after rolling back.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Reader

	// RecordAnomaly persists outside any transaction: the anomaly must
	// survive the rollback of the operation that detected it.
	RecordAnomaly(ctx context.Context, a *model.Anomaly) error
	MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error
	Ping(ctx context.Context) error
}

// Reader is the read side used outside transactions.
type Reader interface {
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContractEvents(ctx context.Context, contractID string) ([]model.ContractEvent, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error)
	ListAnomalies(ctx context.Context, limit int) ([]model.Anomaly, error)
}

// Tx is one per-aggregate transaction. Reads register the version they saw;
// updates succeed only if that version is still current at commit.
type Tx interface {
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	FindContractByMilestone(ctx context.Context, milestoneID string) (*model.Contract, error)
	// FindFundingPayment returns the milestone's payment in a funding-holding
	// status, or ErrNotFound.
	FindFundingPayment(ctx context.Context, milestoneID string) (*model.Payment, error)

	InsertContract(ctx context.Context, c *model.Contract) error
	UpdateContract(ctx context.Context, c *model.Contract) error
	InsertPayment(ctx context.Context, p *model.Payment) error
	UpdatePayment(ctx context.Context, p *model.Payment) error

	AppendEvent(ctx context.Context, e *model.ContractEvent) error
	AppendNotification(ctx context.Context, n *model.Notification) error
	EnqueueOutbox(ctx context.Context, e *outbox.Event) error
}

// ReplayGuard is an optional fast path in front of the durable idempotency
// check. Implementations must fail open.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) bool
	Remember(ctx context.Context, key string)
}
