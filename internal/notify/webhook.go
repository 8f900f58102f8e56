package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqcontracts "escrowhub/contracts/mq"
	"escrowhub/pkg/circuitbreaker"
	"escrowhub/pkg/trace"

	"go.uber.org/zap"
)

// WebhookSender POSTs each notification as JSON to a fixed endpoint, for
// example a push or e-mail gateway.
type WebhookSender struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewWebhookSender(url string, timeout time.Duration, logger *zap.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	breaker := circuitbreaker.NewCircuitBreaker("notification_webhook", circuitbreaker.DefaultConfig())
	breaker.OnStateChange = func(name string, from, to circuitbreaker.State) {
		logger.Warn("Notification webhook breaker changed state",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &WebhookSender{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (s *WebhookSender) Channel() string { return ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, n mqcontracts.NotificationCreatedPayload) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName(), traceID)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}
