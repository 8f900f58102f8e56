// Package memory is an in-process document store with the same optimistic
// conflict detection and unique constraints as the database backends. It
// backs local development and the concurrency tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"
)

type Store struct {
	mu            sync.Mutex
	payments      map[string]*model.Payment
	contracts     map[string]*model.Contract
	events        []model.ContractEvent
	notifications []*model.Notification
	outbox        []*outbox.Event
	anomalies     []model.Anomaly
	now           func() time.Time
}

var (
	_ escrow.Store      = (*Store)(nil)
	_ outbox.Repository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		payments:  make(map[string]*model.Payment),
		contracts: make(map[string]*model.Contract),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for outbox scheduling.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx escrow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:         s,
		payments:  make(map[string]*write[model.Payment]),
		contracts: make(map[string]*write[model.Contract]),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

// commit validates versions and unique constraints, then applies every
// buffered write at once.
func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range t.payments {
		var version int64
		cur, exists := s.payments[id]
		if exists {
			version = cur.Version
		}
		if err := w.check(exists, version); err != nil {
			return fmt.Errorf("payment %s: %w", id, err)
		}
	}
	for id, w := range t.contracts {
		var version int64
		cur, exists := s.contracts[id]
		if exists {
			version = cur.Version
		}
		if err := w.check(exists, version); err != nil {
			return fmt.Errorf("contract %s: %w", id, err)
		}
	}
	if err := s.checkPaymentConstraints(t); err != nil {
		return err
	}

	for id, w := range t.payments {
		s.payments[id] = w.doc
	}
	for id, w := range t.contracts {
		s.contracts[id] = w.doc
	}
	s.events = append(s.events, t.events...)
	s.notifications = append(s.notifications, t.notifications...)
	s.outbox = append(s.outbox, t.outbox...)
	return nil
}

// checkPaymentConstraints enforces one funding-holding payment per milestone
// and unique provider transaction ids over the post-commit state.
func (s *Store) checkPaymentConstraints(t *tx) error {
	after := func(id string) *model.Payment {
		if w, ok := t.payments[id]; ok {
			return w.doc
		}
		return s.payments[id]
	}
	ids := make(map[string]struct{}, len(s.payments)+len(t.payments))
	for id := range s.payments {
		ids[id] = struct{}{}
	}
	for id := range t.payments {
		ids[id] = struct{}{}
	}

	for id, w := range t.payments {
		p := w.doc
		for other := range ids {
			if other == id {
				continue
			}
			o := after(other)
			if p.Status.HoldsFunding() && o.Status.HoldsFunding() && o.MilestoneID == p.MilestoneID {
				return fmt.Errorf("milestone %s already has funding payment %s: %w", p.MilestoneID, o.ID, escrow.ErrDuplicate)
			}
			if p.ProviderTransactionID != "" && o.ProviderTransactionID == p.ProviderTransactionID {
				return fmt.Errorf("provider transaction %s already recorded: %w", p.ProviderTransactionID, escrow.ErrDuplicate)
			}
		}
	}
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, escrow.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, escrow.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *Store) ListContractEvents(_ context.Context, contractID string) ([]model.ContractEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContractEvent
	for _, e := range s.events {
		if e.ContractID == contractID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListStalePendingPayments(_ context.Context, createdBefore time.Time, limit int) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, p := range s.payments {
		if p.Status == model.PaymentPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListAnomalies(_ context.Context, limit int) ([]model.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Anomaly
	for i := len(s.anomalies) - 1; i >= 0; i-- {
		out = append(out, s.anomalies[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RecordAnomaly(_ context.Context, a *model.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, *a)
	return nil
}

func (s *Store) MarkNotificationRead(_ context.Context, notificationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID != notificationID || n.UserID != userID {
			continue
		}
		if !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
		}
		return nil
	}
	return fmt.Errorf("notification %s: %w", notificationID, escrow.ErrNotFound)
}

func (s *Store) Ping(context.Context) error { return nil }

// Notifications returns every stored notification in write order.
func (s *Store) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	return out
}

// OutboxEvents returns every outbox record in write order.
func (s *Store) OutboxEvents() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, *e)
	}
	return out
}
