package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mqcontracts "escrowhub/contracts/mq"
	"escrowhub/internal/model"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/outbox"
	"escrowhub/pkg/trace"
	"escrowhub/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	PlatformFeePercent float64       `yaml:"platform_fee_percent"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	// AppBaseURL prefixes action links in notifications.
	AppBaseURL string `yaml:"app_base_url"`
}

func DefaultConfig() Config {
	return Config{
		PlatformFeePercent: 5,
		OperationTimeout:   5 * time.Second,
		MaxAttempts:        3,
		RetryBackoff:       50 * time.Millisecond,
	}
}

// Service is the escrow state machine. It holds no per-aggregate state in
// memory; every operation is one store transaction.
type Service struct {
	store  Store
	cfg    Config
	guard  ReplayGuard
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent >= 100 {
		cfg.PlatformFeePercent = def.PlatformFeePercent
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// WithReplayGuard enables the Redis fast path for duplicate callbacks.
func (s *Service) WithReplayGuard(g ReplayGuard) *Service {
	s.guard = g
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(newID func() string) *Service {
	s.newID = newID
	return s
}

// transition is a committed state change, recorded in metrics after commit.
type transition struct {
	entity, from, to string
}

// txEffects collects what one attempt of an operation writes besides the
// aggregate documents.
type txEffects struct {
	events      []*model.ContractEvent
	notes       []*model.Notification
	transitions []transition
}

func (e *txEffects) moved(entity, from, to string) {
	e.transitions = append(e.transitions, transition{entity, from, to})
}

// runTx runs fn in a store transaction, retrying contention with exponential
// backoff. Domain errors abort immediately. Exhausted retries and deadline
// expiry surface as *TransientError.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx, fx *txEffects) error) (*txEffects, error) {
	log := logger.WithTrace(ctx, s.logger)
	backoff := s.cfg.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		fx := &txEffects{}
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := fn(ctx, tx, fx); err != nil {
				return err
			}
			return s.writeEffects(ctx, tx, fx)
		})
		if err == nil {
			for _, t := range fx.transitions {
				metrics.RecordTransition(t.entity, t.from, t.to)
			}
			return fx, nil
		}
		if isDomainError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, &TransientError{Op: op, Err: ctx.Err()}
		}
		if !s.retryable(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
		metrics.IncrementTxRetry(op)
		log.Warn("Transaction contention, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &TransientError{Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, &TransientError{Op: op, Err: lastErr}
}

func (s *Service) retryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	ok, _ := util.IsRetryableError(err)
	return ok
}

// withTimeout bounds client-initiated operations.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// writeEffects appends events and notifications and their outbox records in
// the caller's transaction.
func (s *Service) writeEffects(ctx context.Context, tx Tx, fx *txEffects) error {
	traceID := trace.FromContext(ctx)

	for _, ev := range fx.events {
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.Type, err)
		}
		payload := mqcontracts.ContractEventPayload{
			EventID:     ev.ID,
			ContractID:  ev.ContractID,
			MilestoneID: ev.MilestoneID,
			PaymentID:   ev.PaymentID,
			Type:        string(ev.Type),
			ActorID:     ev.ActorID,
			Amount:      ev.Data.Amount,
			Currency:    ev.Data.Currency,
			Provider:    string(ev.Data.Provider),
			Reason:      ev.Data.Reason,
			Outcome:     ev.Data.Outcome,
			CreatedAt:   ev.CreatedAt,
			TraceID:     traceID,
		}
		rec, err := outbox.NewEvent("contract", ev.ContractID, mqcontracts.RoutingKeyEventPrefix+string(ev.Type), payload, ev.CreatedAt)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, rec); err != nil {
			return fmt.Errorf("failed to enqueue outbox event: %w", err)
		}
	}

	for _, n := range fx.notes {
		if err := tx.AppendNotification(ctx, n); err != nil {
			return fmt.Errorf("failed to append notification %s: %w", n.Type, err)
		}
		payload := mqcontracts.NotificationCreatedPayload{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Type:           string(n.Type),
			Title:          n.Title,
			Message:        n.Message,
			ContractID:     n.ContractID,
			PaymentID:      n.PaymentID,
			ActionURL:      n.ActionURL,
			CreatedAt:      n.CreatedAt,
			TraceID:        traceID,
		}
		rec, err := outbox.NewEvent("notification", n.ID, mqcontracts.RoutingKeyNotificationCreated, payload, n.CreatedAt)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, rec); err != nil {
			return fmt.Errorf("failed to enqueue outbox notification: %w", err)
		}
	}
	return nil
}

func (s *Service) event(fx *txEffects, now time.Time, contractID, milestoneID, paymentID string, typ model.EventType, actor string, data model.EventData) *model.ContractEvent {
	ev := &model.ContractEvent{
		ID:          s.newID(),
		ContractID:  contractID,
		MilestoneID: milestoneID,
		PaymentID:   paymentID,
		Type:        typ,
		ActorID:     actor,
		Data:        data,
		CreatedAt:   now,
	}
	fx.events = append(fx.events, ev)
	return ev
}

func (s *Service) notify(fx *txEffects, ev *model.ContractEvent, userID string, typ model.NotificationType, title, message, actionURL string) {
	fx.notes = append(fx.notes, &model.Notification{
		ID:          s.newID(),
		UserID:      userID,
		Type:        typ,
		Title:       title,
		Message:     message,
		ContractID:  ev.ContractID,
		MilestoneID: ev.MilestoneID,
		PaymentID:   ev.PaymentID,
		EventID:     ev.ID,
		ActionURL:   actionURL,
		CreatedAt:   ev.CreatedAt,
	})
}

func (s *Service) link(format string, args ...interface{}) string {
	return s.cfg.AppBaseURL + fmt.Sprintf(format, args...)
}

// breakdown splits gross into fee and net, rounded to cents.
func (s *Service) breakdown(gross float64, currency string) model.Amount {
	fee := roundCents(gross * s.cfg.PlatformFeePercent / 100)
	return model.Amount{
		Gross:    roundCents(gross),
		Fee:      fee,
		Net:      roundCents(gross - fee),
		Currency: currency,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func amountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func progressPtr(c *model.Contract) *float64 {
	p := c.Progress
	return &p
}

// loadContractForMilestone resolves the contract owning milestoneID.
func loadContractForMilestone(ctx context.Context, tx Tx, milestoneID string) (*model.Contract, *model.Milestone, error) {
	c, err := tx.FindContractByMilestone(ctx, milestoneID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, &NotFoundError{Kind: "milestone", ID: milestoneID}
	}
	if err != nil {
		return nil, nil, err
	}
	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, nil, &NotFoundError{Kind: "milestone", ID: milestoneID}
	}
	return c, m, nil
}

func loadContract(ctx context.Context, tx Tx, contractID string) (*model.Contract, error) {
	c, err := tx.GetContract(ctx, contractID)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "contract", ID: contractID}
	}
	return c, err
}

func loadPayment(ctx context.Context, tx Tx, paymentID string) (*model.Payment, error) {
	p, err := tx.GetPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "payment", ID: paymentID}
	}
	return p, err
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}
