package model

import (
	"time"
)

// ReleaseOnApproval is the release condition recorded on every escrow.
const ReleaseOnApproval = "milestone_completion_approval"

// Payment is one funding attempt for exactly one milestone.
type Payment struct {
	ID           string        `json:"id" bson:"_id"`
	ContractID   string        `json:"contractId" bson:"contractId"`
	MilestoneID  string        `json:"milestoneId" bson:"milestoneId"`
	ClientID     string        `json:"clientId" bson:"clientId"`
	FreelancerID string        `json:"freelancerId" bson:"freelancerId"`
	Amount       Amount        `json:"amount" bson:"amount"`
	Status       PaymentStatus `json:"status" bson:"status"`
	Method       PaymentMethod `json:"paymentMethod" bson:"paymentMethod"`
	Description  string        `json:"description,omitempty" bson:"description,omitempty"`
	// Reference is the id handed to the provider when funding is requested.
	Reference string `json:"reference" bson:"reference"`
	// ProviderTransactionID is set by the first callback that moves the
	// payment out of pending. It is the idempotency key for replays.
	ProviderTransactionID string       `json:"providerTransactionId,omitempty" bson:"providerTransactionId,omitempty"`
	Escrow                *EscrowInfo  `json:"escrow,omitempty" bson:"escrow,omitempty"`
	Failure               *FailureInfo `json:"failure,omitempty" bson:"failure,omitempty"`
	CreatedAt             time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt" bson:"updatedAt"`
	Version               int64        `json:"version" bson:"version"`
}

// Amount is the fee breakdown in major currency units.
type Amount struct {
	Gross    float64 `json:"gross" bson:"gross"`
	Fee      float64 `json:"fee" bson:"fee"`
	Net      float64 `json:"net" bson:"net"`
	Currency string  `json:"currency" bson:"currency"`
}

type EscrowInfo struct {
	EscrowedAt       time.Time        `json:"escrowedAt" bson:"escrowedAt"`
	ReleaseCondition string           `json:"releaseCondition" bson:"releaseCondition"`
	ReleasedAt       *time.Time       `json:"releasedAt,omitempty" bson:"releasedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	RefundedAt       *time.Time       `json:"refundedAt,omitempty" bson:"refundedAt,omitempty"`
	Provider         ProviderMetadata `json:"provider" bson:"provider"`
}

type FailureInfo struct {
	Reason   string           `json:"reason" bson:"reason"`
	Details  ProviderMetadata `json:"details" bson:"details"`
	FailedAt time.Time        `json:"failedAt" bson:"failedAt"`
}

// ProviderMetadata is what a provider reported about a transaction.
type ProviderMetadata struct {
	Provider      Provider  `json:"provider" bson:"provider"`
	TransactionID string    `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	Amount        float64   `json:"amount,omitempty" bson:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty" bson:"currency,omitempty"`
	PhoneNumber   string    `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	Status        string    `json:"status,omitempty" bson:"status,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt" bson:"receivedAt"`
}

// Clone returns a copy that shares no mutable state with p.
func (p *Payment) Clone() *Payment {
	out := *p
	out.Method = p.Method.clone()
	if p.Escrow != nil {
		e := *p.Escrow
		out.Escrow = &e
	}
	if p.Failure != nil {
		f := *p.Failure
		out.Failure = &f
	}
	return &out
}
