package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	mqcontracts "escrowhub/contracts/mq"
	"escrowhub/pkg/mq"

	"go.uber.org/zap"
)

type setGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *setGuard) AcquireOnce(_ context.Context, handler, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	key := handler + ":" + id
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

type recordingSender struct {
	err  error
	sent []string
}

func (s *recordingSender) Channel() string { return "test" }

func (s *recordingSender) Send(_ context.Context, n mqcontracts.NotificationCreatedPayload) error {
	s.sent = append(s.sent, n.NotificationID)
	return s.err
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, routingKey string, _ interface{}) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func payload(t *testing.T, id string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.NotificationCreatedPayload{NotificationID: id, UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestDeliversAtMostOnce(t *testing.T) {
	sender := &recordingSender{}
	pub := &recordingPublisher{}
	h := NewNotificationCreatedHandler(sender, &setGuard{}, pub, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := h.Handle(context.Background(), payload(t, "n1")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d times, want 1", len(sender.sent))
	}
	if len(pub.keys) != 1 || pub.keys[0] != mqcontracts.RoutingKeyNotificationSent {
		t.Errorf("published = %v", pub.keys)
	}
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	sender := &recordingSender{err: errors.New("gateway down")}
	pub := &recordingPublisher{}
	h := NewNotificationCreatedHandler(sender, &setGuard{}, pub, zap.NewNop())

	if err := h.Handle(context.Background(), payload(t, "n2")); err != nil {
		t.Fatalf("failed delivery must be acked: %v", err)
	}
	if err := h.Handle(context.Background(), payload(t, "n2")); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d times, want 1", len(sender.sent))
	}
	if len(pub.keys) != 1 || pub.keys[0] != mqcontracts.RoutingKeyNotificationFailed {
		t.Errorf("published = %v", pub.keys)
	}
}

func TestMalformedPayloadIsPermanent(t *testing.T) {
	h := NewNotificationCreatedHandler(&recordingSender{}, &setGuard{}, nil, zap.NewNop())

	var permanent *mq.PermanentError
	if err := h.Handle(context.Background(), json.RawMessage(`{bad`)); !errors.As(err, &permanent) {
		t.Errorf("bad json: err = %v", err)
	}
	if err := h.Handle(context.Background(), json.RawMessage(`{"title":"x"}`)); !errors.As(err, &permanent) {
		t.Errorf("missing ids: err = %v", err)
	}
}
