package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrowhub/internal/model"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/metrics"

	"go.uber.org/zap"
)

// ProviderStatus is the status string a provider reports for a transaction.
type ProviderStatus string

const (
	StatusSuccessful ProviderStatus = "SUCCESSFUL"
	StatusFailed     ProviderStatus = "FAILED"
	StatusPending    ProviderStatus = "PENDING"
)

// ProviderCallback is one provider report about a payment, from a webhook
// delivery or a status poll.
type ProviderCallback struct {
	PaymentID     string
	Provider      model.Provider
	Status        ProviderStatus
	TransactionID string
	Amount        float64
	Currency      string
	PhoneNumber   string
	FailureReason string
	ReceivedAt    time.Time
	// Source is "webhook" or "reconciler".
	Source string
}

type CallbackOutcome string

const (
	OutcomeEscrowed CallbackOutcome = "escrowed"
	OutcomeFailed   CallbackOutcome = "failed"
	OutcomeReplayed CallbackOutcome = "replayed"
	OutcomeIgnored  CallbackOutcome = "ignored"
)

type CallbackResult struct {
	PaymentID string
	Outcome   CallbackOutcome
	// Status is the payment status after the call. Empty when the replay
	// guard answered without reading the payment.
	Status model.PaymentStatus
}

type callbackRule int

const (
	ruleEscrow callbackRule = iota
	ruleFail
	// ruleSameTransaction acknowledges a repeat of the recorded transaction
	// and rejects any other transaction id.
	ruleSameTransaction
	ruleLateSuccess
	ruleReplay
	ruleMismatch
)

// callbackRules is provider status x payment status -> handling. Statuses
// other than SUCCESSFUL and FAILED are intermediate and never transition.
var callbackRules = map[ProviderStatus]map[model.PaymentStatus]callbackRule{
	StatusSuccessful: {
		model.PaymentPending:   ruleEscrow,
		model.PaymentEscrowed:  ruleSameTransaction,
		model.PaymentReleased:  ruleSameTransaction,
		model.PaymentCompleted: ruleSameTransaction,
		model.PaymentRefunded:  ruleSameTransaction,
		model.PaymentFailed:    ruleLateSuccess,
	},
	StatusFailed: {
		model.PaymentPending:   ruleFail,
		model.PaymentFailed:    ruleReplay,
		model.PaymentRefunded:  ruleReplay,
		model.PaymentEscrowed:  ruleMismatch,
		model.PaymentReleased:  ruleMismatch,
		model.PaymentCompleted: ruleMismatch,
	},
}

func replayKey(cb ProviderCallback) string {
	return cb.PaymentID + ":" + cb.TransactionID + ":" + string(cb.Status)
}

func callbackActor(p model.Provider) string {
	if p == "" {
		return model.ActorSystem
	}
	return "provider:" + string(p)
}

// HandleProviderCallback applies a provider report to its payment. Repeats
// of an applied report succeed without side effects. A report that
// contradicts recorded state returns *InconsistentStateError after the
// anomaly has been persisted.
func (s *Service) HandleProviderCallback(ctx context.Context, cb ProviderCallback) (*CallbackResult, error) {
	if err := required("paymentId", cb.PaymentID); err != nil {
		return nil, err
	}
	if err := required("status", string(cb.Status)); err != nil {
		return nil, err
	}
	cb.Status = ProviderStatus(strings.ToUpper(string(cb.Status)))
	if cb.Status == StatusSuccessful && cb.TransactionID == "" {
		return nil, &ValidationError{Field: "transactionId", Message: "is required for a successful payment"}
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = s.now()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("payment_id", cb.PaymentID),
		zap.String("provider", string(cb.Provider)),
		zap.String("provider_status", string(cb.Status)),
		zap.String("transaction_id", cb.TransactionID),
		zap.String("source", cb.Source),
	)

	rules, known := callbackRules[cb.Status]
	if !known {
		p, err := s.store.GetPayment(ctx, cb.PaymentID)
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "payment", ID: cb.PaymentID}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load payment: %w", err)
		}
		metrics.RecordProviderCallback(string(cb.Provider), string(cb.Status), string(OutcomeIgnored))
		log.Info("Intermediate provider status recorded", zap.String("payment_status", string(p.Status)))
		return &CallbackResult{PaymentID: p.ID, Outcome: OutcomeIgnored, Status: p.Status}, nil
	}

	key := replayKey(cb)
	if s.guard != nil && cb.TransactionID != "" && s.guard.Seen(ctx, key) {
		metrics.RecordProviderCallback(string(cb.Provider), string(cb.Status), string(OutcomeReplayed))
		log.Info("Duplicate provider callback acknowledged")
		return &CallbackResult{PaymentID: cb.PaymentID, Outcome: OutcomeReplayed}, nil
	}

	var (
		result     CallbackResult
		contractID string
		stored     model.PaymentStatus
	)
	_, err := s.runTx(ctx, "provider_callback", func(ctx context.Context, tx Tx, fx *txEffects) error {
		p, err := loadPayment(ctx, tx, cb.PaymentID)
		if err != nil {
			return err
		}
		contractID, stored = p.ContractID, p.Status
		if cb.Provider == "" {
			cb.Provider = p.Method.Provider()
		} else if owner := p.Method.Provider(); owner != cb.Provider {
			return &InconsistentStateError{
				PaymentID: p.ID, Kind: model.AnomalyProviderMismatch, Status: p.Status,
				StoredTransactionID: p.ProviderTransactionID, ReceivedTransactionID: cb.TransactionID,
				Detail: fmt.Sprintf("callback from %q for a payment initiated through %q", cb.Provider, owner),
			}
		}
		result = CallbackResult{PaymentID: p.ID, Status: p.Status}

		switch rules[p.Status] {
		case ruleEscrow:
			if err := s.escrowFunds(ctx, tx, fx, p, cb); err != nil {
				return err
			}
			result.Outcome, result.Status = OutcomeEscrowed, p.Status
			return nil
		case ruleFail:
			if err := s.failPayment(ctx, tx, fx, p, cb); err != nil {
				return err
			}
			result.Outcome, result.Status = OutcomeFailed, p.Status
			return nil
		case ruleSameTransaction:
			if p.Escrow == nil {
				return &InconsistentStateError{
					PaymentID: p.ID, Kind: model.AnomalyLateSuccess, Status: p.Status,
					ReceivedTransactionID: cb.TransactionID,
					Detail:                "funds reported after the payment was refunded without escrow",
				}
			}
			if p.ProviderTransactionID != cb.TransactionID {
				return &InconsistentStateError{
					PaymentID: p.ID, Kind: model.AnomalyTransactionMismatch, Status: p.Status,
					StoredTransactionID: p.ProviderTransactionID, ReceivedTransactionID: cb.TransactionID,
					Detail: "success reported for a different transaction than the one recorded",
				}
			}
			result.Outcome = OutcomeReplayed
			return nil
		case ruleLateSuccess:
			return &InconsistentStateError{
				PaymentID: p.ID, Kind: model.AnomalyLateSuccess, Status: p.Status,
				StoredTransactionID: p.ProviderTransactionID, ReceivedTransactionID: cb.TransactionID,
				Detail: "success reported after the payment had failed",
			}
		case ruleReplay:
			result.Outcome = OutcomeReplayed
			return nil
		default:
			return &InconsistentStateError{
				PaymentID: p.ID, Kind: model.AnomalyTransactionMismatch, Status: p.Status,
				StoredTransactionID: p.ProviderTransactionID, ReceivedTransactionID: cb.TransactionID,
				Detail: "failure reported for a payment holding funds",
			}
		}
	})

	var inconsistent *InconsistentStateError
	if errors.As(err, &inconsistent) {
		s.recordAnomaly(ctx, log, cb, contractID, stored, inconsistent)
		metrics.RecordProviderCallback(string(cb.Provider), string(cb.Status), "inconsistent")
		return nil, err
	}
	if err != nil {
		metrics.RecordProviderCallback(string(cb.Provider), string(cb.Status), "error")
		return nil, err
	}

	if s.guard != nil && cb.TransactionID != "" {
		s.guard.Remember(ctx, key)
	}
	metrics.RecordProviderCallback(string(cb.Provider), string(cb.Status), string(result.Outcome))
	log.Info("Provider callback applied",
		zap.String("outcome", string(result.Outcome)),
		zap.String("payment_status", string(result.Status)),
	)
	return &result, nil
}

func (s *Service) escrowFunds(ctx context.Context, tx Tx, fx *txEffects, p *model.Payment, cb ProviderCallback) error {
	if (cb.Amount > 0 && !amountsEqual(cb.Amount, p.Amount.Gross)) ||
		(cb.Currency != "" && !strings.EqualFold(cb.Currency, p.Amount.Currency)) {
		return &InconsistentStateError{
			PaymentID: p.ID, Kind: model.AnomalyAmountMismatch, Status: p.Status,
			ReceivedTransactionID: cb.TransactionID,
			Detail: fmt.Sprintf("provider reported %.2f %s, payment expects %.2f %s",
				cb.Amount, cb.Currency, p.Amount.Gross, p.Amount.Currency),
		}
	}

	c, err := loadContract(ctx, tx, p.ContractID)
	if err != nil {
		return err
	}
	m := c.Milestone(p.MilestoneID)
	if m == nil {
		return &InconsistentStateError{
			PaymentID: p.ID, Kind: model.AnomalyMilestoneState, Status: p.Status,
			ReceivedTransactionID: cb.TransactionID,
			Detail:                fmt.Sprintf("milestone %s is missing from contract %s", p.MilestoneID, c.ID),
		}
	}
	milestoneFrom, err := transitionMilestone(m, MilestoneFund)
	if err != nil {
		return &InconsistentStateError{
			PaymentID: p.ID, Kind: model.AnomalyMilestoneState, Status: p.Status,
			ReceivedTransactionID: cb.TransactionID,
			Detail:                fmt.Sprintf("milestone %s is %s, expected pending", m.ID, milestoneFrom),
		}
	}

	now := s.now()
	meta := providerMetadata(cb)
	if _, err := transitionPayment(p, PaymentFund); err != nil {
		return err
	}
	p.ProviderTransactionID = cb.TransactionID
	p.Escrow = &model.EscrowInfo{
		EscrowedAt:       now,
		ReleaseCondition: model.ReleaseOnApproval,
		Provider:         meta,
	}
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return &InconsistentStateError{
				PaymentID: p.ID, Kind: model.AnomalyTransactionMismatch, Status: model.PaymentPending,
				ReceivedTransactionID: cb.TransactionID,
				Detail:                "transaction id is already recorded on another payment",
			}
		}
		return err
	}

	m.FundedAt = &now
	c.UpdatedAt = now
	if err := tx.UpdateContract(ctx, c); err != nil {
		return err
	}
	fx.moved("payment", string(model.PaymentPending), string(p.Status))
	fx.moved("milestone", string(milestoneFrom), string(m.Status))

	ev := s.event(fx, now, c.ID, m.ID, p.ID, model.EventMilestoneFunded, callbackActor(cb.Provider), model.EventData{
		Amount:        p.Amount.Gross,
		Currency:      p.Amount.Currency,
		Provider:      cb.Provider,
		TransactionID: cb.TransactionID,
		PhoneNumber:   cb.PhoneNumber,
		FromStatus:    string(milestoneFrom),
		ToStatus:      string(m.Status),
	})
	s.notify(fx, ev, c.FreelancerID, model.NotifyMilestoneFunded,
		"Milestone funded",
		fmt.Sprintf("%q is funded with %.2f %s held in escrow. You can start working.", m.Title, p.Amount.Gross, p.Amount.Currency),
		s.link("/contracts/%s/milestones/%s", c.ID, m.ID))
	s.notify(fx, ev, c.ClientID, model.NotifyPaymentProcessed,
		"Payment processed",
		fmt.Sprintf("Your payment of %.2f %s for %q is held in escrow until you approve the work.", p.Amount.Gross, p.Amount.Currency, m.Title),
		s.link("/contracts/%s/payments/%s", c.ID, p.ID))
	return nil
}

func (s *Service) failPayment(ctx context.Context, tx Tx, fx *txEffects, p *model.Payment, cb ProviderCallback) error {
	now := s.now()
	if _, err := transitionPayment(p, PaymentFail); err != nil {
		return err
	}
	reason := cb.FailureReason
	if reason == "" {
		reason = "provider_reported_failure"
	}
	if cb.TransactionID != "" {
		p.ProviderTransactionID = cb.TransactionID
	}
	p.Failure = &model.FailureInfo{Reason: reason, Details: providerMetadata(cb), FailedAt: now}
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return &InconsistentStateError{
				PaymentID: p.ID, Kind: model.AnomalyTransactionMismatch, Status: model.PaymentPending,
				ReceivedTransactionID: cb.TransactionID,
				Detail:                "transaction id is already recorded on another payment",
			}
		}
		return err
	}
	fx.moved("payment", string(model.PaymentPending), string(p.Status))

	c, err := loadContract(ctx, tx, p.ContractID)
	if err != nil {
		return err
	}
	title := p.MilestoneID
	if m := c.Milestone(p.MilestoneID); m != nil {
		title = m.Title
	}
	ev := s.event(fx, now, c.ID, p.MilestoneID, p.ID, model.EventPaymentFailed, callbackActor(cb.Provider), model.EventData{
		Amount:        p.Amount.Gross,
		Currency:      p.Amount.Currency,
		Provider:      cb.Provider,
		TransactionID: cb.TransactionID,
		Reason:        reason,
	})
	s.notify(fx, ev, p.ClientID, model.NotifyPaymentFailed,
		"Payment failed",
		fmt.Sprintf("Your payment of %.2f %s for %q failed (%s). You can retry funding.", p.Amount.Gross, p.Amount.Currency, title, reason),
		s.link("/contracts/%s/milestones/%s/fund?retry=%s", c.ID, p.MilestoneID, p.ID))
	return nil
}

func providerMetadata(cb ProviderCallback) model.ProviderMetadata {
	return model.ProviderMetadata{
		Provider:      cb.Provider,
		TransactionID: cb.TransactionID,
		Amount:        cb.Amount,
		Currency:      cb.Currency,
		PhoneNumber:   cb.PhoneNumber,
		Status:        string(cb.Status),
		ReceivedAt:    cb.ReceivedAt,
	}
}

// recordAnomaly persists the contradiction outside the rolled-back
// transaction. A failure to persist is logged; the caller still gets the
// inconsistency.
func (s *Service) recordAnomaly(ctx context.Context, log *zap.Logger, cb ProviderCallback, contractID string, status model.PaymentStatus, e *InconsistentStateError) {
	metrics.IncrementAnomaly(string(e.Kind))
	log.Error("Provider callback contradicts recorded state",
		zap.String("reconciliation", "required"),
		zap.String("anomaly_kind", string(e.Kind)),
		zap.String("contract_id", contractID),
		zap.String("payment_status", string(status)),
		zap.String("stored_transaction_id", e.StoredTransactionID),
		zap.String("detail", e.Detail),
	)

	a := &model.Anomaly{
		ID:                    s.newID(),
		PaymentID:             e.PaymentID,
		ContractID:            contractID,
		Kind:                  e.Kind,
		Provider:              cb.Provider,
		PaymentStatus:         status,
		ReportedStatus:        string(cb.Status),
		StoredTransactionID:   e.StoredTransactionID,
		ReceivedTransactionID: e.ReceivedTransactionID,
		Detail:                e.Detail,
		CreatedAt:             s.now(),
	}
	if err := s.store.RecordAnomaly(context.WithoutCancel(ctx), a); err != nil {
		log.Error("Failed to persist anomaly", zap.Error(err))
	}
}
