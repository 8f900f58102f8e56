package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"
)

func seedPayment(t *testing.T, s *Store, p *model.Payment) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		t.Fatalf("seed payment %s: %v", p.ID, err)
	}
}

func pendingPayment(id, milestoneID string) *model.Payment {
	return &model.Payment{
		ID:          id,
		ContractID:  "c1",
		MilestoneID: milestoneID,
		Status:      model.PaymentPending,
		Amount:      model.Amount{Gross: 100, Fee: 5, Net: 95, Currency: "XAF"},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestInsertSetsVersionAndRejectsDuplicates(t *testing.T) {
	s := New()
	p := pendingPayment("p1", "m1")
	seedPayment(t, s, p)
	if p.Version != 1 {
		t.Fatalf("version = %d, want 1", p.Version)
	}

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertPayment(ctx, pendingPayment("p1", "m2"))
	})
	if !errors.Is(err, escrow.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestConcurrentUpdateConflicts(t *testing.T) {
	s := New()
	seedPayment(t, s, pendingPayment("p1", "m1"))
	ctx := context.Background()

	// Both transactions read version 1; the second to commit must lose.
	var stale *model.Payment
	err := s.RunInTx(ctx, func(ctx context.Context, outer escrow.Tx) error {
		var err error
		stale, err = outer.GetPayment(ctx, "p1")
		if err != nil {
			return err
		}

		if err := s.RunInTx(ctx, func(ctx context.Context, inner escrow.Tx) error {
			p, err := inner.GetPayment(ctx, "p1")
			if err != nil {
				return err
			}
			p.Status = model.PaymentFailed
			return inner.UpdatePayment(ctx, p)
		}); err != nil {
			t.Fatalf("inner commit: %v", err)
		}

		stale.Status = model.PaymentEscrowed
		return outer.UpdatePayment(ctx, stale)
	})
	if !errors.Is(err, escrow.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, _ := s.GetPayment(ctx, "p1")
	if got.Status != model.PaymentFailed || got.Version != 2 {
		t.Errorf("stored = %s v%d, want failed v2", got.Status, got.Version)
	}
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := New()
	seedPayment(t, s, pendingPayment("p1", "m1"))
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		p, _ := tx.GetPayment(ctx, "p1")
		p.Status = model.PaymentEscrowed
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		_ = tx.AppendEvent(ctx, &model.ContractEvent{ID: "e1", ContractID: "c1"})
		_ = tx.EnqueueOutbox(ctx, &outbox.Event{ID: "o1", Status: outbox.StatusPending})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fn error unchanged", err)
	}
	got, _ := s.GetPayment(ctx, "p1")
	if got.Status != model.PaymentPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	events, _ := s.ListContractEvents(ctx, "c1")
	if len(events) != 0 || len(s.OutboxEvents()) != 0 {
		t.Errorf("rolled back tx leaked %d events, %d outbox records", len(events), len(s.OutboxEvents()))
	}
}

func TestOneFundingPaymentPerMilestone(t *testing.T) {
	s := New()
	seedPayment(t, s, pendingPayment("p1", "m1"))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertPayment(ctx, pendingPayment("p2", "m1"))
	})
	if !errors.Is(err, escrow.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	failed := pendingPayment("p3", "m1")
	failed.Status = model.PaymentFailed
	seedPayment(t, s, failed)
}

func TestProviderTransactionIDIsUnique(t *testing.T) {
	s := New()
	a := pendingPayment("p1", "m1")
	a.Status = model.PaymentEscrowed
	a.ProviderTransactionID = "tx1"
	seedPayment(t, s, a)

	b := pendingPayment("p2", "m2")
	seedPayment(t, s, b)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		p, err := tx.GetPayment(ctx, "p2")
		if err != nil {
			return err
		}
		p.Status = model.PaymentEscrowed
		p.ProviderTransactionID = "tx1"
		return tx.UpdatePayment(ctx, p)
	})
	if !errors.Is(err, escrow.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestTxSeesOwnWrites(t *testing.T) {
	s := New()
	seedPayment(t, s, pendingPayment("p1", "m1"))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		p, _ := tx.GetPayment(ctx, "p1")
		p.Status = model.PaymentFailed
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if _, err := tx.FindFundingPayment(ctx, "m1"); !errors.Is(err, escrow.ErrNotFound) {
			t.Errorf("FindFundingPayment after fail: err = %v, want ErrNotFound", err)
		}
		again, _ := tx.GetPayment(ctx, "p1")
		if again.Version != 2 {
			t.Errorf("buffered version = %d, want 2", again.Version)
		}
		again.Status = model.PaymentFailed
		return tx.UpdatePayment(ctx, again)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	got, _ := s.GetPayment(context.Background(), "p1")
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
}

func TestMarkNotificationReadOnlyByRecipient(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		return tx.AppendNotification(ctx, &model.Notification{ID: "n1", UserID: "u1"})
	})

	if err := s.MarkNotificationRead(ctx, "n1", "u2", time.Now()); !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("other user: err = %v, want ErrNotFound", err)
	}
	if err := s.MarkNotificationRead(ctx, "n1", "u1", time.Now()); err != nil {
		t.Fatalf("recipient: %v", err)
	}
	unread, _ := s.ListNotifications(ctx, "u1", true, 10)
	if len(unread) != 0 {
		t.Errorf("unread = %d, want 0", len(unread))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })
	ctx := context.Background()
	_ = s.RunInTx(ctx, func(ctx context.Context, tx escrow.Tx) error {
		return tx.EnqueueOutbox(ctx, &outbox.Event{ID: "o1", RoutingKey: "k", Status: outbox.StatusPending, CreatedAt: now})
	})

	pending, _ := s.GetPendingEvents(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := s.MarkAsFailed(ctx, "o1", 2); err != nil {
		t.Fatal(err)
	}
	if pending, _ = s.GetPendingEvents(ctx, 10); len(pending) != 0 {
		t.Errorf("event retried before its backoff elapsed")
	}
	if err := s.MarkAsFailed(ctx, "o1", 2); err != nil {
		t.Fatal(err)
	}
	failed, _ := s.GetFailedEvents(ctx, 10)
	if len(failed) != 1 || failed[0].RetryCount != 2 {
		t.Fatalf("failed = %+v, want one record with 2 retries", failed)
	}

	if err := s.ReplayEvent(ctx, "o1"); err != nil {
		t.Fatal(err)
	}
	if pending, _ = s.GetPendingEvents(ctx, 10); len(pending) != 1 {
		t.Errorf("replayed event not pending")
	}
	if err := s.MarkAsSent(ctx, "missing"); !errors.Is(err, outbox.ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}
