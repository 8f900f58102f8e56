package mq

import "time"

const (
	RoutingKeyNotificationCreated = "notification.created"
	RoutingKeyNotificationSent    = "notification.sent"
	RoutingKeyNotificationFailed  = "notification.failed"
)

// NotificationCreatedPayload is published once per stored Notification.
type NotificationCreatedPayload struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ContractID     string    `json:"contract_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	ActionURL      string    `json:"action_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// NotificationSentPayload is published by the worker after delivery.
type NotificationSentPayload struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Channel        string    `json:"channel"`
	SentAt         time.Time `json:"sent_at"`
}

type NotificationFailedPayload struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Channel        string `json:"channel"`
	Error          string `json:"error"`
}
