package mongostore

import (
	"context"
	"fmt"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/outbox"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// paymentDoc adds the indexed funding slot to the stored payment. The slot
// holds the milestone id while the payment holds funding and is absent
// otherwise, so the partial unique index admits one such payment per
// milestone.
type paymentDoc struct {
	model.Payment `bson:",inline"`
	FundingSlot   string `bson:"fundingSlot,omitempty"`
}

func newPaymentDoc(p *model.Payment) paymentDoc {
	d := paymentDoc{Payment: *p}
	if p.Status.HoldsFunding() {
		d.FundingSlot = p.MilestoneID
	}
	return d
}

// outboxDoc stores the payload as a JSON string so records stay readable
// from the shell.
type outboxDoc struct {
	ID            string     `bson:"_id"`
	AggregateType string     `bson:"aggregateType"`
	AggregateID   string     `bson:"aggregateId"`
	RoutingKey    string     `bson:"routingKey"`
	Payload       string     `bson:"payload"`
	Status        string     `bson:"status"`
	RetryCount    int        `bson:"retryCount"`
	NextRetryAt   *time.Time `bson:"nextRetryAt,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt"`
	UpdatedAt     time.Time  `bson:"updatedAt"`
}

func newOutboxDoc(e *outbox.Event) outboxDoc {
	return outboxDoc{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		RoutingKey:    e.RoutingKey,
		Payload:       string(e.Payload),
		Status:        e.Status,
		RetryCount:    e.RetryCount,
		NextRetryAt:   e.NextRetryAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func (d outboxDoc) event() *outbox.Event {
	return &outbox.Event{
		ID:            d.ID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		RoutingKey:    d.RoutingKey,
		Payload:       []byte(d.Payload),
		Status:        d.Status,
		RetryCount:    d.RetryCount,
		NextRetryAt:   d.NextRetryAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func findPayment(ctx context.Context, coll *mongo.Collection, filter bson.M) (*model.Payment, error) {
	var doc paymentDoc
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translate("find payment", err)
	}
	return &doc.Payment, nil
}

func findContract(ctx context.Context, coll *mongo.Collection, filter bson.M) (*model.Contract, error) {
	var c model.Contract
	if err := coll.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, translate("find contract", err)
	}
	return &c, nil
}

// tx is bound to the session carried by the context it is called with.
type tx struct {
	s *Store
}

func (t *tx) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return findPayment(ctx, t.s.coll(CollPayments), bson.M{"_id": id})
}

func (t *tx) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return findContract(ctx, t.s.coll(CollContracts), bson.M{"_id": id})
}

func (t *tx) FindContractByMilestone(ctx context.Context, milestoneID string) (*model.Contract, error) {
	return findContract(ctx, t.s.coll(CollContracts), bson.M{"milestones.id": milestoneID})
}

func (t *tx) FindFundingPayment(ctx context.Context, milestoneID string) (*model.Payment, error) {
	return findPayment(ctx, t.s.coll(CollPayments), bson.M{"fundingSlot": milestoneID})
}

func (t *tx) InsertContract(ctx context.Context, c *model.Contract) error {
	c.Version = 1
	if _, err := t.s.coll(CollContracts).InsertOne(ctx, c); err != nil {
		c.Version = 0
		return translate("insert contract "+c.ID, err)
	}
	return nil
}

// UpdateContract replaces the document only if it still carries the version
// the caller read.
func (t *tx) UpdateContract(ctx context.Context, c *model.Contract) error {
	read := c.Version
	next := *c
	next.Version = read + 1
	if err := t.replace(ctx, CollContracts, c.ID, read, &next); err != nil {
		return err
	}
	c.Version = next.Version
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, p *model.Payment) error {
	p.Version = 1
	if _, err := t.s.coll(CollPayments).InsertOne(ctx, newPaymentDoc(p)); err != nil {
		p.Version = 0
		return translate("insert payment "+p.ID, err)
	}
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	read := p.Version
	doc := newPaymentDoc(p)
	doc.Version = read + 1
	if err := t.replace(ctx, CollPayments, p.ID, read, doc); err != nil {
		return err
	}
	p.Version = doc.Version
	return nil
}

func (t *tx) replace(ctx context.Context, coll, id string, version int64, doc interface{}) error {
	res, err := t.s.coll(coll).ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return translate(fmt.Sprintf("replace %s %s", coll, id), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s at version %d: %w", coll, id, version, escrow.ErrConflict)
	}
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, e *model.ContractEvent) error {
	if _, err := t.s.coll(CollEvents).InsertOne(ctx, e); err != nil {
		return translate("insert contract event", err)
	}
	return nil
}

func (t *tx) AppendNotification(ctx context.Context, n *model.Notification) error {
	if _, err := t.s.coll(CollNotifications).InsertOne(ctx, n); err != nil {
		return translate("insert notification", err)
	}
	return nil
}

func (t *tx) EnqueueOutbox(ctx context.Context, e *outbox.Event) error {
	if _, err := t.s.coll(CollOutbox).InsertOne(ctx, newOutboxDoc(e)); err != nil {
		return translate("insert outbox event", err)
	}
	return nil
}
