package escrow

import (
	"context"
	"errors"
	"fmt"

	"escrowhub/internal/model"
)

const defaultListLimit = 50

// GetPayment returns a payment visible to viewerID. An empty viewerID skips
// the party check and is reserved for operators.
func (s *Service) GetPayment(ctx context.Context, paymentID, viewerID string) (*model.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "payment", ID: paymentID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if viewerID != "" && viewerID != p.ClientID && viewerID != p.FreelancerID {
		return nil, &ForbiddenError{ActorID: viewerID, Action: "view payment " + p.ID}
	}
	return p, nil
}

func (s *Service) GetContract(ctx context.Context, contractID, viewerID string) (*model.Contract, error) {
	c, err := s.store.GetContract(ctx, contractID)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "contract", ID: contractID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	if viewerID != "" && !c.IsParty(viewerID) {
		return nil, &ForbiddenError{ActorID: viewerID, Action: "view contract " + c.ID}
	}
	return c, nil
}

// ListContractEvents returns the contract's history, oldest first.
func (s *Service) ListContractEvents(ctx context.Context, contractID, viewerID string) ([]model.ContractEvent, error) {
	if _, err := s.GetContract(ctx, contractID, viewerID); err != nil {
		return nil, err
	}
	events, err := s.store.ListContractEvents(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (s *Service) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if err := required("userId", userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	out, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read. Only the recipient may
// do so; other users get NotFound so ids are not disclosed.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if err := required("notificationId", notificationID); err != nil {
		return err
	}
	err := s.store.MarkNotificationRead(ctx, notificationID, userID, s.now())
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Kind: "notification", ID: notificationID}
	}
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (s *Service) ListAnomalies(ctx context.Context, limit int) ([]model.Anomaly, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	out, err := s.store.ListAnomalies(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return out, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
