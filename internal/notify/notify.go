package notify

import (
	"context"
	"fmt"
	"time"

	mqcontracts "escrowhub/contracts/mq"

	"go.uber.org/zap"
)

const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
)

// Config selects and configures the delivery channel.
type Config struct {
	Channel    string        `yaml:"channel"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Sender delivers one notification to its recipient.
type Sender interface {
	Channel() string
	Send(ctx context.Context, n mqcontracts.NotificationCreatedPayload) error
}

func NewSender(cfg Config, logger *zap.Logger) (Sender, error) {
	switch cfg.Channel {
	case "", ChannelLog:
		return NewLogSender(logger), nil
	case ChannelWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("notification channel %q needs webhook_url", cfg.Channel)
		}
		return NewWebhookSender(cfg.WebhookURL, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported notification channel: %s", cfg.Channel)
	}
}

// LogSender writes notifications to the log. Used in local development.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Channel() string { return ChannelLog }

func (s *LogSender) Send(_ context.Context, n mqcontracts.NotificationCreatedPayload) error {
	s.logger.Info("Notification delivered",
		zap.String("notification_id", n.NotificationID),
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
	return nil
}
