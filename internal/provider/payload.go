package provider

import (
	"errors"
	"strings"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
)

// CallbackPayload is the JSON body both providers post to their webhook.
type CallbackPayload struct {
	PaymentID     string  `json:"paymentId"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PhoneNumber   string  `json:"phoneNumber"`
	FailureReason string  `json:"failureReason,omitempty"`
}

var ErrIncompletePayload = errors.New("paymentId and status are required")

func (p CallbackPayload) Validate() error {
	if strings.TrimSpace(p.PaymentID) == "" || strings.TrimSpace(p.Status) == "" {
		return ErrIncompletePayload
	}
	return nil
}

// ToCallback converts the payload for the state machine.
func (p CallbackPayload) ToCallback(provider model.Provider, receivedAt time.Time) escrow.ProviderCallback {
	return escrow.ProviderCallback{
		PaymentID:     strings.TrimSpace(p.PaymentID),
		Provider:      provider,
		Status:        escrow.ProviderStatus(strings.ToUpper(strings.TrimSpace(p.Status))),
		TransactionID: strings.TrimSpace(p.TransactionID),
		Amount:        p.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		PhoneNumber:   p.PhoneNumber,
		FailureReason: p.FailureReason,
		ReceivedAt:    receivedAt,
		Source:        "webhook",
	}
}
