package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrowhub/internal/model"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/util"

	"go.uber.org/zap"
)

// ReasonProviderTimeout is the failure reason for payments the provider never
// settled.
const ReasonProviderTimeout = "provider_timeout"

// ProviderStatusReport is a provider's answer to a status query.
type ProviderStatusReport struct {
	Status        ProviderStatus
	TransactionID string
	Amount        float64
	Currency      string
	PhoneNumber   string
	FailureReason string
}

// StatusChecker queries a provider for the status of a funding request.
type StatusChecker interface {
	CheckStatus(ctx context.Context, provider model.Provider, reference string) (*ProviderStatusReport, error)
}

// AttemptCounter counts reconciliation attempts per payment across runs and
// processes.
type AttemptCounter interface {
	Get(ctx context.Context, key string) (int64, error)
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	MaxAttempts int           `yaml:"max_attempts"`
	BatchSize   int           `yaml:"batch_size"`
}

type ReconcileSummary struct {
	Scanned      int `json:"scanned"`
	Escrowed     int `json:"escrowed"`
	Failed       int `json:"failed"`
	StillPending int `json:"stillPending"`
	Skipped      int `json:"skipped"`
	Held         int `json:"held"`
	Errors       int `json:"errors"`
}

// Reconciler settles stale pending payments by polling the provider and
// feeding the answer through the callback path.
type Reconciler struct {
	svc     *Service
	checker StatusChecker
	counter AttemptCounter
	cfg     ReconcilerConfig
	logger  *zap.Logger
}

// NewReconciler builds a reconciler. A nil counter keeps attempt counts in
// process memory.
func NewReconciler(svc *Service, checker StatusChecker, counter AttemptCounter, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if counter == nil {
		counter = &localCounter{counts: make(map[string]int64)}
	}
	return &Reconciler{svc: svc, checker: checker, counter: counter, cfg: cfg, logger: logger}
}

// Start runs RunOnce every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stale_after", r.cfg.StaleAfter),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			summary, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("Reconciliation run failed", zap.Error(err))
				continue
			}
			if summary.Scanned > 0 {
				r.logger.Info("Reconciliation run finished", zap.Any("summary", summary))
			}
		}
	}
}

// RunOnce reconciles one batch of stale pending payments.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	ctx, span := otel.StartSpan(ctx, "reconcile.run")
	defer span.End()

	var summary ReconcileSummary
	cutoff := r.svc.now().Add(-r.cfg.StaleAfter)
	payments, err := r.svc.store.ListStalePendingPayments(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		metrics.IncrementReconcile("error")
		return summary, fmt.Errorf("failed to list stale payments: %w", err)
	}

	for i := range payments {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++
		r.reconcile(ctx, &payments[i], &summary)
	}
	metrics.IncrementReconcile("ok")
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, p *model.Payment, summary *ReconcileSummary) {
	log := r.logger.With(zap.String("payment_id", p.ID), zap.String("reference", p.Reference))
	provider := p.Method.Provider()
	if provider == "" {
		summary.Skipped++
		return
	}

	key := util.FormatRetryKey("reconcile", p.ID)
	// held counts reports that contradicted recorded state. Past MaxAttempts
	// the payment waits for manual review instead of adding an anomaly per run.
	held := util.FormatRetryKey("reconcile-anomaly", p.ID)
	if n, err := r.counter.Get(ctx, held); err != nil {
		log.Warn("Failed to read anomaly count", zap.Error(err))
	} else if n >= int64(r.cfg.MaxAttempts) {
		summary.Held++
		return
	}

	report, err := r.checker.CheckStatus(ctx, provider, p.Reference)
	if err != nil {
		summary.Errors++
		_, kind := util.IsRetryableError(err)
		log.Warn("Provider status check failed",
			zap.String("provider", string(provider)),
			zap.String("error_type", kind),
			zap.Error(err),
		)
		return
	}

	cb := ProviderCallback{
		PaymentID:     p.ID,
		Provider:      provider,
		Status:        report.Status,
		TransactionID: report.TransactionID,
		Amount:        report.Amount,
		Currency:      report.Currency,
		PhoneNumber:   report.PhoneNumber,
		FailureReason: report.FailureReason,
		Source:        "reconciler",
	}
	if report.Status != StatusSuccessful && report.Status != StatusFailed {
		n, err := r.counter.IncrementAndGet(ctx, key)
		if err != nil {
			log.Warn("Failed to count reconciliation attempt", zap.Error(err))
		}
		if n < int64(r.cfg.MaxAttempts) {
			summary.StillPending++
			return
		}
		log.Warn("Payment still pending after maximum attempts, failing it", zap.Int64("attempts", n))
		cb.Status = StatusFailed
		cb.FailureReason = ReasonProviderTimeout
	}

	res, err := r.svc.HandleProviderCallback(ctx, cb)
	if err != nil {
		summary.Errors++
		if !IsInconsistentState(err) {
			log.Error("Failed to apply reconciled status", zap.Error(err))
			return
		}
		n, cerr := r.counter.IncrementAndGet(ctx, held)
		if cerr != nil {
			log.Warn("Failed to count reconciliation anomaly", zap.Error(cerr))
			return
		}
		if n >= int64(r.cfg.MaxAttempts) {
			log.Error("Payment held for manual review after repeated anomalies",
				zap.Int64("anomalies", n),
				zap.String("reconciliation", "required"),
			)
		}
		return
	}
	switch res.Outcome {
	case OutcomeEscrowed:
		summary.Escrowed++
	case OutcomeFailed:
		summary.Failed++
	}
	for _, k := range []string{key, held} {
		if err := r.counter.Reset(ctx, k); err != nil {
			log.Warn("Failed to reset reconciliation attempts", zap.String("key", k), zap.Error(err))
		}
	}
}

type localCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *localCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], nil
}

func (c *localCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *localCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}
