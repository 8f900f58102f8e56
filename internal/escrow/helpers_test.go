package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/internal/store/memory"

	"go.uber.org/zap"
)

const (
	clientID     = "client-1"
	freelancerID = "freelancer-1"
	adminID      = "admin-1"
	phone        = "+237650000000"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	svc   *escrow.Service
	store *memory.Store
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New().WithClock(clk.Now)
	svc := escrow.NewService(store, escrow.Config{
		PlatformFeePercent: 10,
		MaxAttempts:        3,
		RetryBackoff:       time.Millisecond,
		OperationTimeout:   2 * time.Second,
		AppBaseURL:         "https://app.test",
	}, zap.NewNop()).WithClock(clk.Now)
	return &harness{t: t, svc: svc, store: store, clock: clk}
}

// activeContract creates and accepts a contract with milestones of 500 and
// 300 USD.
func (h *harness) activeContract() *model.Contract {
	h.t.Helper()
	ctx := context.Background()
	c, err := h.svc.CreateContract(ctx, escrow.CreateContractRequest{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Title:        "Mobile app",
		Currency:     "USD",
		Milestones: []escrow.MilestoneDraft{
			{Title: "Design", Amount: 500},
			{Title: "Build", Amount: 300},
		},
	})
	if err != nil {
		h.t.Fatalf("CreateContract: %v", err)
	}
	c, err = h.svc.AcceptContract(ctx, c.ID, freelancerID)
	if err != nil {
		h.t.Fatalf("AcceptContract: %v", err)
	}
	return c
}

func (h *harness) initiate(c *model.Contract, idx int) *model.Payment {
	h.t.Helper()
	m := c.Milestones[idx]
	p, err := h.svc.InitiatePayment(context.Background(), escrow.InitiatePaymentRequest{
		ContractID:  c.ID,
		MilestoneID: m.ID,
		ActorID:     clientID,
		Amount:      m.Amount,
		Currency:    "USD",
		Method:      model.NewMobileMoneyMethod(model.ProviderMTN, phone),
	})
	if err != nil {
		h.t.Fatalf("InitiatePayment: %v", err)
	}
	return p
}

func success(p *model.Payment, txID string) escrow.ProviderCallback {
	return escrow.ProviderCallback{
		PaymentID:     p.ID,
		Provider:      model.ProviderMTN,
		Status:        escrow.StatusSuccessful,
		TransactionID: txID,
		Amount:        p.Amount.Gross,
		Currency:      p.Amount.Currency,
		PhoneNumber:   phone,
		Source:        "webhook",
	}
}

func (h *harness) fund(c *model.Contract, idx int) *model.Payment {
	h.t.Helper()
	p := h.initiate(c, idx)
	if _, err := h.svc.HandleProviderCallback(context.Background(), success(p, "tx-"+p.ID)); err != nil {
		h.t.Fatalf("fund callback: %v", err)
	}
	return h.payment(p.ID)
}

func (h *harness) fundAndSubmit(c *model.Contract, idx int) *model.Payment {
	h.t.Helper()
	p := h.fund(c, idx)
	_, err := h.svc.SubmitMilestone(context.Background(), escrow.SubmitMilestoneRequest{
		MilestoneID:  c.Milestones[idx].ID,
		FreelancerID: freelancerID,
		Description:  "done",
		Links:        []string{"https://example.test/build"},
	})
	if err != nil {
		h.t.Fatalf("SubmitMilestone: %v", err)
	}
	return p
}

func (h *harness) payment(id string) *model.Payment {
	h.t.Helper()
	p, err := h.store.GetPayment(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetPayment %s: %v", id, err)
	}
	return p
}

func (h *harness) contract(id string) *model.Contract {
	h.t.Helper()
	c, err := h.store.GetContract(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetContract %s: %v", id, err)
	}
	return c
}

func (h *harness) eventsOfType(contractID string, typ model.EventType) []model.ContractEvent {
	h.t.Helper()
	all, err := h.store.ListContractEvents(context.Background(), contractID)
	if err != nil {
		h.t.Fatal(err)
	}
	var out []model.ContractEvent
	for _, e := range all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) notificationsFor(paymentID string) []model.Notification {
	var out []model.Notification
	for _, n := range h.store.Notifications() {
		if n.PaymentID == paymentID {
			out = append(out, n)
		}
	}
	return out
}

func (h *harness) outboxCount(routingKey string) int {
	n := 0
	for _, e := range h.store.OutboxEvents() {
		if e.RoutingKey == routingKey {
			n++
		}
	}
	return n
}

// mapGuard is an in-process ReplayGuard.
type mapGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *mapGuard) Seen(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key]
}

func (g *mapGuard) Remember(_ context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = true
}
