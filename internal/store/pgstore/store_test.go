package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// openTestStore connects to ESCROW_TEST_PG_DSN and creates the schema in a
// throwaway search_path.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ESCROW_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ESCROW_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	schemaName := "escrow_test_" + uuid.NewString()[:8]

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schemaName); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schemaName+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, zap.NewNop())
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func pendingPayment(id, milestoneID string) *model.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Payment{
		ID:          id,
		ContractID:  "c1",
		MilestoneID: milestoneID,
		ClientID:    "client-1",
		Amount:      model.Amount{Gross: 100, Fee: 5, Net: 95, Currency: "XAF"},
		Status:      model.PaymentPending,
		Method:      model.NewMobileMoneyMethod(model.ProviderOrange, "+237690000000"),
		Reference:   "ORANGE-" + id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestFundingSlotAndProviderTransactionAreUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insert := func(p *model.Payment) error {
		return s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error { return tx.InsertPayment(ctx, p) })
	}

	if err := insert(pendingPayment("p1", "m1")); err != nil {
		t.Fatal(err)
	}
	if err := insert(pendingPayment("p2", "m1")); !errors.Is(err, escrow.ErrDuplicate) {
		t.Fatalf("second funding payment: err = %v, want ErrDuplicate", err)
	}

	failed := pendingPayment("p3", "m2")
	failed.Status = model.PaymentFailed
	failed.ProviderTransactionID = "tx-1"
	if err := insert(failed); err != nil {
		t.Fatal(err)
	}
	other := pendingPayment("p4", "m3")
	other.Status = model.PaymentEscrowed
	other.ProviderTransactionID = "tx-1"
	if err := insert(other); !errors.Is(err, escrow.ErrDuplicate) {
		t.Fatalf("reused provider transaction: err = %v, want ErrDuplicate", err)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertPayment(ctx, pendingPayment("p1", "m1"))
	})
	if err != nil {
		t.Fatal(err)
	}
	stale, err := s.GetPayment(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		p, err := tx.GetPayment(ctx, "p1")
		if err != nil {
			return err
		}
		p.Status = model.PaymentFailed
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		stale.Status = model.PaymentEscrowed
		return tx.UpdatePayment(ctx, stale)
	})
	if !errors.Is(err, escrow.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev, err := outbox.NewEvent("notification", "n1", "notification.created", map[string]string{"id": "n1"}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	err = s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error { return tx.EnqueueOutbox(ctx, ev) })
	if err != nil {
		t.Fatal(err)
	}

	pending, err := s.GetPendingEvents(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}
	if err := s.MarkAsFailed(ctx, ev.ID, 1); err != nil {
		t.Fatal(err)
	}
	failed, err := s.GetFailedEvents(ctx, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed = %d, %v", len(failed), err)
	}
	if err := s.ReplayEvent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsSent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEventByID(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != outbox.StatusSent || got.RetryCount != 0 {
		t.Errorf("event = %s retry %d, want sent with reset retries", got.Status, got.RetryCount)
	}
	if err := s.MarkAsSent(ctx, "missing"); !errors.Is(err, outbox.ErrEventNotFound) {
		t.Errorf("missing event: err = %v", err)
	}
}

func TestNotificationsReadByRecipientOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	n := &model.Notification{ID: "n1", UserID: "u1", Type: model.NotifyPaymentProcessed, Title: "t", CreatedAt: time.Now().UTC()}
	err := s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error { return tx.AppendNotification(ctx, n) })
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkNotificationRead(ctx, "n1", "u2", time.Now()); !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("foreign read: err = %v", err)
	}
	if err := s.MarkNotificationRead(ctx, "n1", "u1", time.Now()); err != nil {
		t.Fatal(err)
	}
	unread, err := s.ListNotifications(ctx, "u1", true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Errorf("unread = %d, want 0", len(unread))
	}
	all, _ := s.ListNotifications(ctx, "u1", false, 10)
	if len(all) != 1 || !all[0].IsRead || all[0].ReadAt == nil {
		t.Errorf("notification = %+v", all)
	}
}
