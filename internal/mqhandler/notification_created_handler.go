package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mqcontracts "escrowhub/contracts/mq"
	"escrowhub/internal/notify"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/mq"

	"go.uber.org/zap"
)

const handlerName = "notification_created"

// OnceGuard is satisfied by *util.Deduper.
type OnceGuard interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
}

// ResultPublisher announces delivery results; satisfied by *mq.Publisher.
type ResultPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload interface{}) error
}

// NotificationCreatedHandler delivers each notification at most once. The
// id is claimed before sending, so a failed delivery is reported but never
// retried.
type NotificationCreatedHandler struct {
	sender    notify.Sender
	once      OnceGuard
	publisher ResultPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationCreatedHandler accepts a nil publisher; results are then
// only logged.
func NewNotificationCreatedHandler(sender notify.Sender, once OnceGuard, publisher ResultPublisher, logger *zap.Logger) *NotificationCreatedHandler {
	return &NotificationCreatedHandler{
		sender:    sender,
		once:      once,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *NotificationCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.NotificationCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal NotificationCreatedPayload", zap.Error(err))
		return mq.Permanent(err)
	}
	if p.NotificationID == "" || p.UserID == "" {
		return mq.Permanent(errors.New("notification payload without notification_id or user_id"))
	}

	log = log.With(
		zap.String("notification_id", p.NotificationID),
		zap.String("user_id", p.UserID),
		zap.String("channel", h.sender.Channel()),
	)

	if !h.once.AcquireOnce(ctx, handlerName, p.NotificationID) {
		metrics.IncrementNotificationDelivered(h.sender.Channel(), "duplicate")
		return nil
	}

	if err := h.sender.Send(ctx, p); err != nil {
		metrics.IncrementNotificationDelivered(h.sender.Channel(), "failed")
		log.Error("Failed to deliver notification", zap.Error(err))
		h.publish(ctx, log, mqcontracts.RoutingKeyNotificationFailed, mqcontracts.NotificationFailedPayload{
			NotificationID: p.NotificationID,
			UserID:         p.UserID,
			Channel:        h.sender.Channel(),
			Error:          err.Error(),
		})
		return nil
	}

	metrics.IncrementNotificationDelivered(h.sender.Channel(), "sent")
	log.Info("Notification sent successfully", zap.String("type", p.Type))
	h.publish(ctx, log, mqcontracts.RoutingKeyNotificationSent, mqcontracts.NotificationSentPayload{
		NotificationID: p.NotificationID,
		UserID:         p.UserID,
		Channel:        h.sender.Channel(),
		SentAt:         h.now().UTC(),
	})
	return nil
}

func (h *NotificationCreatedHandler) publish(ctx context.Context, log *zap.Logger, routingKey string, payload interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishWithContext(ctx, routingKey, payload); err != nil {
		log.Warn("Failed to publish delivery result", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
