package model

import "time"

type AnomalyKind string

const (
	// A callback named a different transaction than the one recorded.
	AnomalyTransactionMismatch AnomalyKind = "transaction_mismatch"
	// A success callback arrived for a milestone that is no longer pending.
	AnomalyMilestoneState AnomalyKind = "milestone_state"
	// The reported amount or currency differs from the payment.
	AnomalyAmountMismatch AnomalyKind = "amount_mismatch"
	// A success callback arrived after the payment had already failed.
	AnomalyLateSuccess AnomalyKind = "late_success"
	// The callback came through a different provider than the payment's.
	AnomalyProviderMismatch AnomalyKind = "provider_mismatch"
)

// Anomaly is a provider callback that contradicted recorded state and needs
// manual reconciliation.
type Anomaly struct {
	ID                    string        `json:"id" bson:"_id"`
	PaymentID             string        `json:"paymentId" bson:"paymentId"`
	ContractID            string        `json:"contractId,omitempty" bson:"contractId,omitempty"`
	Kind                  AnomalyKind   `json:"kind" bson:"kind"`
	Provider              Provider      `json:"provider" bson:"provider"`
	PaymentStatus         PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	ReportedStatus        string        `json:"reportedStatus" bson:"reportedStatus"`
	StoredTransactionID   string        `json:"storedTransactionId,omitempty" bson:"storedTransactionId,omitempty"`
	ReceivedTransactionID string        `json:"receivedTransactionId,omitempty" bson:"receivedTransactionId,omitempty"`
	Detail                string        `json:"detail" bson:"detail"`
	CreatedAt             time.Time     `json:"createdAt" bson:"createdAt"`
}
