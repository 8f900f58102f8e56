package memory

import (
	"context"
	"fmt"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"
)

// write is a buffered document write. base is the version the transaction
// read; the commit fails with ErrConflict if it moved.
type write[T any] struct {
	doc    *T
	base   int64
	insert bool
}

func (w *write[T]) check(exists bool, current int64) error {
	switch {
	case w.insert && exists:
		return escrow.ErrDuplicate
	case w.insert:
		return nil
	case !exists:
		return escrow.ErrNotFound
	case current != w.base:
		return escrow.ErrConflict
	}
	return nil
}

type tx struct {
	s             *Store
	payments      map[string]*write[model.Payment]
	contracts     map[string]*write[model.Contract]
	events        []model.ContractEvent
	notifications []*model.Notification
	outbox        []*outbox.Event
}

func (t *tx) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	if w, ok := t.payments[id]; ok {
		return w.doc.Clone(), nil
	}
	return t.s.GetPayment(ctx, id)
}

func (t *tx) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	if w, ok := t.contracts[id]; ok {
		return w.doc.Clone(), nil
	}
	return t.s.GetContract(ctx, id)
}

func (t *tx) FindContractByMilestone(_ context.Context, milestoneID string) (*model.Contract, error) {
	for _, w := range t.contracts {
		if w.doc.Milestone(milestoneID) != nil {
			return w.doc.Clone(), nil
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, c := range t.s.contracts {
		if c.Milestone(milestoneID) != nil {
			return c.Clone(), nil
		}
	}
	return nil, fmt.Errorf("contract with milestone %s: %w", milestoneID, escrow.ErrNotFound)
}

func (t *tx) FindFundingPayment(_ context.Context, milestoneID string) (*model.Payment, error) {
	match := func(p *model.Payment) bool {
		return p.MilestoneID == milestoneID && p.Status.HoldsFunding()
	}
	for _, w := range t.payments {
		if match(w.doc) {
			return w.doc.Clone(), nil
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, p := range t.s.payments {
		if _, shadowed := t.payments[id]; shadowed {
			continue
		}
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("funding payment for milestone %s: %w", milestoneID, escrow.ErrNotFound)
}

func (t *tx) InsertContract(_ context.Context, c *model.Contract) error {
	if _, ok := t.contracts[c.ID]; ok {
		return fmt.Errorf("contract %s: %w", c.ID, escrow.ErrDuplicate)
	}
	c.Version = 1
	t.contracts[c.ID] = &write[model.Contract]{doc: c.Clone(), insert: true}
	return nil
}

func (t *tx) UpdateContract(_ context.Context, c *model.Contract) error {
	w, err := stage(t.contracts[c.ID], c.Version, c.ID)
	if err != nil {
		return err
	}
	doc := c.Clone()
	doc.Version = c.Version + 1
	w.doc = doc
	t.contracts[c.ID] = w
	c.Version++
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p *model.Payment) error {
	if _, ok := t.payments[p.ID]; ok {
		return fmt.Errorf("payment %s: %w", p.ID, escrow.ErrDuplicate)
	}
	p.Version = 1
	t.payments[p.ID] = &write[model.Payment]{doc: p.Clone(), insert: true}
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *model.Payment) error {
	w, err := stage(t.payments[p.ID], p.Version, p.ID)
	if err != nil {
		return err
	}
	doc := p.Clone()
	doc.Version = p.Version + 1
	w.doc = doc
	t.payments[p.ID] = w
	p.Version++
	return nil
}

// stage returns the write entry for an update of a document read at
// version. A second update in the same transaction must carry the version
// produced by the first.
func stage[T any](prev *write[T], version int64, id string) (*write[T], error) {
	if prev == nil {
		return &write[T]{base: version}, nil
	}
	if v := docVersion(prev.doc); v != version {
		return nil, fmt.Errorf("%s: stale copy at version %d, buffered %d: %w", id, version, v, escrow.ErrConflict)
	}
	return prev, nil
}

func docVersion(doc any) int64 {
	switch d := doc.(type) {
	case *model.Payment:
		return d.Version
	case *model.Contract:
		return d.Version
	}
	return 0
}

func (t *tx) AppendEvent(_ context.Context, e *model.ContractEvent) error {
	t.events = append(t.events, *e)
	return nil
}

func (t *tx) AppendNotification(_ context.Context, n *model.Notification) error {
	cp := *n
	t.notifications = append(t.notifications, &cp)
	return nil
}

func (t *tx) EnqueueOutbox(_ context.Context, e *outbox.Event) error {
	cp := *e
	t.outbox = append(t.outbox, &cp)
	return nil
}
