package model

import "time"

type NotificationType string

const (
	NotifyContractCreated    NotificationType = "contract_created"
	NotifyContractAccepted   NotificationType = "contract_accepted"
	NotifyContractCompleted  NotificationType = "contract_completed"
	NotifyMilestoneFunded    NotificationType = "milestone_funded"
	NotifyPaymentProcessed   NotificationType = "payment_processed"
	NotifyPaymentFailed      NotificationType = "payment_failed"
	NotifyMilestoneSubmitted NotificationType = "milestone_submitted"
	NotifyMilestoneApproved  NotificationType = "milestone_approved"
	NotifyPaymentReleased    NotificationType = "payment_released"
	NotifyMilestoneCancelled NotificationType = "milestone_cancelled"
	NotifyPaymentRefunded    NotificationType = "payment_refunded"
	NotifyDisputeOpened      NotificationType = "dispute_opened"
	NotifyDisputeResolved    NotificationType = "dispute_resolved"
)

// Notification is a per-user signal tied to an event. IsRead is changed only
// by the recipient.
type Notification struct {
	ID          string           `json:"id" bson:"_id"`
	UserID      string           `json:"userId" bson:"userId"`
	Type        NotificationType `json:"type" bson:"type"`
	Title       string           `json:"title" bson:"title"`
	Message     string           `json:"message" bson:"message"`
	ContractID  string           `json:"contractId,omitempty" bson:"contractId,omitempty"`
	MilestoneID string           `json:"milestoneId,omitempty" bson:"milestoneId,omitempty"`
	PaymentID   string           `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	EventID     string           `json:"eventId,omitempty" bson:"eventId,omitempty"`
	ActionURL   string           `json:"actionUrl,omitempty" bson:"actionUrl,omitempty"`
	IsRead      bool             `json:"isRead" bson:"isRead"`
	CreatedAt   time.Time        `json:"createdAt" bson:"createdAt"`
	ReadAt      *time.Time       `json:"readAt,omitempty" bson:"readAt,omitempty"`
}
