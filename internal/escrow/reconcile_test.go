package escrow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"

	"go.uber.org/zap"
)

type fakeChecker struct {
	reports map[string]*escrow.ProviderStatusReport
	err     error
	calls   int
}

func (f *fakeChecker) CheckStatus(_ context.Context, _ model.Provider, reference string) (*escrow.ProviderStatusReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.reports[reference]; ok {
		return r, nil
	}
	return &escrow.ProviderStatusReport{Status: escrow.StatusPending}, nil
}

func TestReconcilerSettlesStalePayments(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract()
	funded := h.initiate(c, 0)
	failed := h.initiate(c, 1)
	checker := &fakeChecker{reports: map[string]*escrow.ProviderStatusReport{
		funded.Reference: {Status: escrow.StatusSuccessful, TransactionID: "tx-r1", Amount: 500, Currency: "USD"},
		failed.Reference: {Status: escrow.StatusFailed, FailureReason: "rejected"},
	}}
	r := escrow.NewReconciler(h.svc, checker, nil, escrow.ReconcilerConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 3}, zap.NewNop())

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 0 {
		t.Errorf("fresh payments scanned: %+v", summary)
	}

	h.clock.Advance(time.Hour)
	summary, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 2 || summary.Escrowed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 scanned, 1 escrowed, 1 failed", summary)
	}
	if s := h.payment(funded.ID).Status; s != model.PaymentEscrowed {
		t.Errorf("funded payment = %s", s)
	}
	if s := h.payment(failed.ID).Status; s != model.PaymentFailed {
		t.Errorf("failed payment = %s", s)
	}
	if ev := h.eventsOfType(c.ID, model.EventMilestoneFunded); len(ev) != 1 {
		t.Errorf("milestone_funded events = %d", len(ev))
	}
}

func TestReconcilerTimesOutPendingPayments(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract()
	p := h.initiate(c, 0)
	checker := &fakeChecker{}
	r := escrow.NewReconciler(h.svc, checker, nil, escrow.ReconcilerConfig{StaleAfter: time.Minute, MaxAttempts: 2}, zap.NewNop())
	h.clock.Advance(time.Hour)

	summary, _ := r.RunOnce(context.Background())
	if summary.StillPending != 1 {
		t.Fatalf("first run = %+v, want still pending", summary)
	}
	summary, _ = r.RunOnce(context.Background())
	if summary.Failed != 1 {
		t.Fatalf("second run = %+v, want failed", summary)
	}
	got := h.payment(p.ID)
	if got.Status != model.PaymentFailed || got.Failure.Reason != escrow.ReasonProviderTimeout {
		t.Errorf("payment = %s %+v, want failed by timeout", got.Status, got.Failure)
	}
}

func TestReconcilerSkipsCardsAndSurvivesProviderErrors(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract()
	_, err := h.svc.InitiatePayment(context.Background(), escrow.InitiatePaymentRequest{
		ContractID: c.ID, MilestoneID: c.Milestones[0].ID, ActorID: clientID,
		Amount: 500, Currency: "USD", Method: model.NewCardMethod("visa", "4242", 1, 2031),
	})
	if err != nil {
		t.Fatal(err)
	}
	h.initiate(c, 1)
	checker := &fakeChecker{err: errors.New("provider status api returned 503")}
	r := escrow.NewReconciler(h.svc, checker, nil, escrow.ReconcilerConfig{StaleAfter: time.Minute}, zap.NewNop())
	h.clock.Advance(time.Hour)

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Errors != 1 || checker.calls != 1 {
		t.Errorf("summary = %+v calls = %d, want one skipped card and one provider error", summary, checker.calls)
	}
}

func TestReconcilerHoldsPaymentsAfterRepeatedAnomalies(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract()
	p := h.initiate(c, 0)

	err := h.store.RunInTx(context.Background(), func(ctx context.Context, tx escrow.Tx) error {
		cur, err := tx.GetContract(ctx, c.ID)
		if err != nil {
			return err
		}
		cur.Milestone(c.Milestones[0].ID).Status = model.MilestoneCancelled
		return tx.UpdateContract(ctx, cur)
	})
	if err != nil {
		t.Fatal(err)
	}

	checker := &fakeChecker{reports: map[string]*escrow.ProviderStatusReport{
		p.Reference: {Status: escrow.StatusSuccessful, TransactionID: "tx-r9", Amount: 500, Currency: "USD"},
	}}
	r := escrow.NewReconciler(h.svc, checker, nil, escrow.ReconcilerConfig{StaleAfter: time.Minute, MaxAttempts: 2}, zap.NewNop())
	h.clock.Advance(time.Hour)

	for run := 1; run <= 2; run++ {
		summary, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if summary.Errors != 1 || summary.Held != 0 {
			t.Fatalf("run %d = %+v, want one inconsistent report", run, summary)
		}
	}

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Held != 1 || summary.Errors != 0 {
		t.Errorf("third run = %+v, want the payment held", summary)
	}
	if checker.calls != 2 {
		t.Errorf("provider calls = %d, want 2", checker.calls)
	}
	anomalies, _ := h.store.ListAnomalies(context.Background(), 10)
	if len(anomalies) != 2 {
		t.Errorf("anomalies = %d, want 2", len(anomalies))
	}
	if s := h.payment(p.ID).Status; s != model.PaymentPending {
		t.Errorf("payment = %s, want pending for manual review", s)
	}
}
