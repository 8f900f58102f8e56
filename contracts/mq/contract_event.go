package mq

import "time"

// RoutingKeyEventPrefix + event type, e.g. "escrow.event.milestone_funded".
const RoutingKeyEventPrefix = "escrow.event."

// ContractEventPayload mirrors a stored ContractEvent for downstream consumers.
type ContractEventPayload struct {
	EventID     string    `json:"event_id"`
	ContractID  string    `json:"contract_id"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Type        string    `json:"type"`
	ActorID     string    `json:"actor_id"`
	Amount      float64   `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
