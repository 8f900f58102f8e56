package escrow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"escrowhub/internal/model"
	"escrowhub/pkg/logger"

	"go.uber.org/zap"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// InitiatePaymentRequest asks to fund one milestone.
type InitiatePaymentRequest struct {
	ContractID  string
	MilestoneID string
	// ActorID must be the contract's client.
	ActorID     string
	Amount      float64
	Currency    string
	Method      model.PaymentMethod
	Description string
}

func (r *InitiatePaymentRequest) validate() error {
	if err := required("contractId", r.ContractID); err != nil {
		return err
	}
	if err := required("milestoneId", r.MilestoneID); err != nil {
		return err
	}
	if err := required("actorId", r.ActorID); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if !currencyPattern.MatchString(r.Currency) {
		return &ValidationError{Field: "currency", Message: "must be a 3-letter ISO code"}
	}
	if err := r.Method.Validate(); err != nil {
		return &ValidationError{Field: "paymentMethod", Message: err.Error()}
	}
	return nil
}

// InitiatePayment creates a pending payment for a pending milestone and
// returns it. The milestone itself is not touched; it becomes active only
// when the provider confirms the funds. Contacting the provider is the
// caller's job.
func (s *Service) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*model.Payment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var created *model.Payment
	_, err := s.runTx(ctx, "initiate_payment", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, err := loadContract(ctx, tx, req.ContractID)
		if err != nil {
			return err
		}
		if c.ClientID != req.ActorID {
			return &ForbiddenError{ActorID: req.ActorID, Action: "fund milestones of contract " + c.ID}
		}
		if c.Status == model.ContractDispute {
			return &ContractLockedError{ContractID: c.ID}
		}
		if c.Status != model.ContractActive && c.Status != model.ContractRevisionRequested {
			return &InvalidTransitionError{
				Entity: "contract", ID: c.ID, From: string(c.Status), Action: "fund",
				Reason: "contract is not active",
			}
		}
		m := c.Milestone(req.MilestoneID)
		if m == nil {
			return &NotFoundError{Kind: "milestone", ID: req.MilestoneID}
		}
		if _, ok := NextMilestoneStatus(m.Status, MilestoneFund); !ok {
			return &InvalidTransitionError{Entity: "milestone", ID: m.ID, From: string(m.Status), Action: string(MilestoneFund)}
		}
		if !amountsEqual(req.Amount, m.Amount) {
			return &ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("must equal the milestone amount %.2f", m.Amount),
			}
		}
		if !strings.EqualFold(req.Currency, c.Terms.Currency) && c.Terms.Currency != "" {
			return &ValidationError{Field: "currency", Message: "must match the contract currency " + c.Terms.Currency}
		}

		inFlight := &InvalidTransitionError{
			Entity: "milestone", ID: m.ID, From: string(m.Status), Action: string(MilestoneFund),
			Reason: "funding already in progress",
		}
		_, err = tx.FindFundingPayment(ctx, m.ID)
		if err == nil {
			return inFlight
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.now()
		id := s.newID()
		p := &model.Payment{
			ID:           id,
			ContractID:   c.ID,
			MilestoneID:  m.ID,
			ClientID:     c.ClientID,
			FreelancerID: c.FreelancerID,
			Amount:       s.breakdown(req.Amount, req.Currency),
			Status:       model.PaymentPending,
			Method:       req.Method,
			Description:  req.Description,
			Reference:    paymentReference(req.Method, s.newID()),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		// The contract joins the write set so that a concurrent change to the
		// milestone conflicts at commit instead of leaving an orphan payment.
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return inFlight
			}
			return err
		}

		s.event(fx, now, c.ID, m.ID, p.ID, model.EventPaymentInitiated, req.ActorID, model.EventData{
			Amount:      p.Amount.Gross,
			Currency:    p.Amount.Currency,
			Provider:    p.Method.Provider(),
			PhoneNumber: phoneOf(p.Method),
		})
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Payment initiated",
		zap.String("payment_id", created.ID),
		zap.String("contract_id", created.ContractID),
		zap.String("milestone_id", created.MilestoneID),
		zap.String("reference", created.Reference),
		zap.Float64("amount", created.Amount.Gross),
	)
	return created, nil
}

func paymentReference(m model.PaymentMethod, id string) string {
	prefix := string(m.Type)
	if p := m.Provider(); p != "" {
		prefix = string(p)
	}
	return strings.ToUpper(prefix) + "-" + id
}

func phoneOf(m model.PaymentMethod) string {
	if m.MobileMoney != nil {
		return m.MobileMoney.PhoneNumber
	}
	return ""
}
