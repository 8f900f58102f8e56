package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"
)

type tx struct {
	q querier
}

func (t *tx) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return getDoc[model.Payment](ctx, t.q, "get payment", `SELECT doc, version FROM payments WHERE id = $1`, id)
}

func (t *tx) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return getDoc[model.Contract](ctx, t.q, "get contract", `SELECT doc, version FROM contracts WHERE id = $1`, id)
}

func (t *tx) FindContractByMilestone(ctx context.Context, milestoneID string) (*model.Contract, error) {
	return getDoc[model.Contract](ctx, t.q, "find contract by milestone", `
		SELECT c.doc, c.version
		FROM contract_milestones m JOIN contracts c ON c.id = m.contract_id
		WHERE m.milestone_id = $1
	`, milestoneID)
}

func (t *tx) FindFundingPayment(ctx context.Context, milestoneID string) (*model.Payment, error) {
	return getDoc[model.Payment](ctx, t.q, "find funding payment", `
		SELECT doc, version FROM payments
		WHERE milestone_id = $1 AND status IN ('pending', 'escrowed')
	`, milestoneID)
}

func (t *tx) InsertContract(ctx context.Context, c *model.Contract) error {
	c.Version = 1
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO contracts (id, client_id, freelancer_id, status, version, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ClientID, c.FreelancerID, c.Status, c.Version, doc, c.CreatedAt)
	if err != nil {
		c.Version = 0
		return translate("insert contract "+c.ID, err)
	}
	return t.indexMilestones(ctx, c)
}

func (t *tx) indexMilestones(ctx context.Context, c *model.Contract) error {
	for _, m := range c.Milestones {
		_, err := t.q.Exec(ctx, `
			INSERT INTO contract_milestones (milestone_id, contract_id) VALUES ($1, $2)
			ON CONFLICT (milestone_id) DO NOTHING
		`, m.ID, c.ID)
		if err != nil {
			return translate("index milestone "+m.ID, err)
		}
	}
	return nil
}

func (t *tx) UpdateContract(ctx context.Context, c *model.Contract) error {
	read := c.Version
	next := *c
	next.Version = read + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE contracts SET status = $2, version = $3, doc = $4
		WHERE id = $1 AND version = $5
	`, c.ID, c.Status, next.Version, doc, read)
	if err != nil {
		return translate("update contract "+c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %s at version %d: %w", c.ID, read, escrow.ErrConflict)
	}
	c.Version = next.Version
	return t.indexMilestones(ctx, c)
}

// nullable stores "" as SQL NULL so the partial unique index ignores it.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *tx) InsertPayment(ctx context.Context, p *model.Payment) error {
	p.Version = 1
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO payments (id, contract_id, milestone_id, status, provider_transaction_id, version, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.ContractID, p.MilestoneID, p.Status, nullable(p.ProviderTransactionID), p.Version, doc, p.CreatedAt)
	if err != nil {
		p.Version = 0
		return translate("insert payment "+p.ID, err)
	}
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	read := p.Version
	next := *p
	next.Version = read + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE payments SET status = $2, provider_transaction_id = $3, version = $4, doc = $5
		WHERE id = $1 AND version = $6
	`, p.ID, p.Status, nullable(p.ProviderTransactionID), next.Version, doc, read)
	if err != nil {
		return translate("update payment "+p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s at version %d: %w", p.ID, read, escrow.ErrConflict)
	}
	p.Version = next.Version
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, e *model.ContractEvent) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode contract event: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO contract_events (id, contract_id, doc, created_at) VALUES ($1, $2, $3, $4)
	`, e.ID, e.ContractID, doc, e.CreatedAt)
	return translate("insert contract event", err)
}

func (t *tx) AppendNotification(ctx context.Context, n *model.Notification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO notifications (id, user_id, is_read, doc, created_at) VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.UserID, n.IsRead, doc, n.CreatedAt)
	return translate("insert notification", err)
}

func (t *tx) EnqueueOutbox(ctx context.Context, e *outbox.Event) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, routing_key, payload, status, retry_count, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.AggregateType, e.AggregateID, e.RoutingKey, []byte(e.Payload), e.Status, e.RetryCount, e.NextRetryAt, e.CreatedAt, e.UpdatedAt)
	return translate("insert outbox event", err)
}
