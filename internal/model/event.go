package model

import "time"

type EventType string

const (
	EventContractCreated          EventType = "contract_created"
	EventContractAccepted         EventType = "contract_accepted"
	EventContractCompleted        EventType = "contract_completed"
	EventPaymentInitiated         EventType = "payment_initiated"
	EventMilestoneFunded          EventType = "milestone_funded"
	EventPaymentFailed            EventType = "payment_failed"
	EventMilestoneSubmitted       EventType = "milestone_submitted"
	EventMilestoneApproved        EventType = "milestone_approved"
	EventMilestonePaymentReleased EventType = "milestone_payment_released"
	EventMilestoneCancelled       EventType = "milestone_cancelled"
	EventPaymentRefunded          EventType = "payment_refunded"
	EventDisputeOpened            EventType = "dispute_opened"
	EventDisputeResolved          EventType = "dispute_resolved"
)

// ActorSystem is recorded for transitions not caused by a user.
const ActorSystem = "system"

// ContractEvent is an immutable audit record. Ordering by CreatedAt is the
// history of the contract.
type ContractEvent struct {
	ID          string    `json:"id" bson:"_id"`
	ContractID  string    `json:"contractId" bson:"contractId"`
	MilestoneID string    `json:"milestoneId,omitempty" bson:"milestoneId,omitempty"`
	PaymentID   string    `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	Type        EventType `json:"type" bson:"type"`
	ActorID     string    `json:"actorId" bson:"actorId"`
	Data        EventData `json:"data" bson:"data"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// EventData holds the typed details of an event; which fields are set
// depends on Type.
type EventData struct {
	Amount        float64  `json:"amount,omitempty" bson:"amount,omitempty"`
	Currency      string   `json:"currency,omitempty" bson:"currency,omitempty"`
	Provider      Provider `json:"provider,omitempty" bson:"provider,omitempty"`
	TransactionID string   `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	PhoneNumber   string   `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	Reason        string   `json:"reason,omitempty" bson:"reason,omitempty"`
	Outcome       string   `json:"outcome,omitempty" bson:"outcome,omitempty"`
	FromStatus    string   `json:"fromStatus,omitempty" bson:"fromStatus,omitempty"`
	ToStatus      string   `json:"toStatus,omitempty" bson:"toStatus,omitempty"`
	Progress      *float64 `json:"progress,omitempty" bson:"progress,omitempty"`
}
