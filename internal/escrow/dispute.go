package escrow

import (
	"context"
	"fmt"

	"escrowhub/internal/model"
	"escrowhub/pkg/logger"

	"go.uber.org/zap"
)

// DisputeOutcome is the adjudicated result of a dispute.
type DisputeOutcome string

const (
	// DisputeRefund returns the disputed payment to the client and voids its
	// milestone.
	DisputeRefund DisputeOutcome = "refund"
	// DisputeRelease pays the escrowed funds to the freelancer and completes
	// the milestone.
	DisputeRelease DisputeOutcome = "release"
	// DisputeRestore leaves money where it is and reopens the contract.
	DisputeRestore DisputeOutcome = "restore"
)

func (o DisputeOutcome) Valid() bool {
	return o == DisputeRefund || o == DisputeRelease || o == DisputeRestore
}

type OpenDisputeRequest struct {
	ContractID string
	ActorID    string
	Reason     string
	// PaymentID optionally names the payment in dispute.
	PaymentID string
}

// OpenDispute locks a contract against client actions until resolution.
func (s *Service) OpenDispute(ctx context.Context, req OpenDisputeRequest) (*model.Contract, error) {
	if err := required("contractId", req.ContractID); err != nil {
		return nil, err
	}
	if err := required("reason", req.Reason); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "open_dispute", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, err := loadContract(ctx, tx, req.ContractID)
		if err != nil {
			return err
		}
		if !c.IsParty(req.ActorID) {
			return &ForbiddenError{ActorID: req.ActorID, Action: "dispute contract " + c.ID}
		}
		if c.Status == model.ContractDispute {
			return &InvalidTransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), Action: "dispute", Reason: "already disputed"}
		}
		milestoneID := ""
		if req.PaymentID != "" {
			p, err := loadPayment(ctx, tx, req.PaymentID)
			if err != nil {
				return err
			}
			if p.ContractID != c.ID {
				return &ValidationError{Field: "paymentId", Message: "does not belong to the contract"}
			}
			milestoneID = p.MilestoneID
		}

		from, err := transitionContract(c, model.ContractDispute)
		if err != nil {
			return err
		}
		now := s.now()
		c.Dispute = &model.Dispute{
			Reason:      req.Reason,
			OpenedBy:    req.ActorID,
			PaymentID:   req.PaymentID,
			PriorStatus: from,
			OpenedAt:    now,
		}
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		fx.moved("contract", string(from), string(c.Status))

		ev := s.event(fx, now, c.ID, milestoneID, req.PaymentID, model.EventDisputeOpened, req.ActorID, model.EventData{
			Reason:     req.Reason,
			FromStatus: string(from),
			ToStatus:   string(c.Status),
		})
		other := c.ClientID
		if req.ActorID == c.ClientID {
			other = c.FreelancerID
		}
		s.notify(fx, ev, other, model.NotifyDisputeOpened,
			"Dispute opened",
			fmt.Sprintf("A dispute was opened on %q: %s", c.Title, req.Reason),
			s.link("/contracts/%s", c.ID))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Dispute opened",
		zap.String("contract_id", out.ID),
		zap.String("payment_id", req.PaymentID),
	)
	return out, nil
}

type ResolveDisputeRequest struct {
	ContractID string
	ResolverID string
	Outcome    DisputeOutcome
	// PaymentID defaults to the payment named when the dispute was opened.
	PaymentID string
	Note      string
}

// ResolveDispute applies an adjudicated outcome and returns the contract to
// the status it had before the dispute, or to completed when the outcome
// settles the last open milestone.
func (s *Service) ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*model.Contract, error) {
	if err := required("contractId", req.ContractID); err != nil {
		return nil, err
	}
	if !req.Outcome.Valid() {
		return nil, &ValidationError{Field: "outcome", Message: "must be refund, release or restore"}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "resolve_dispute", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, err := loadContract(ctx, tx, req.ContractID)
		if err != nil {
			return err
		}
		if c.IsParty(req.ResolverID) {
			return &ForbiddenError{ActorID: req.ResolverID, Action: "resolve a dispute they are party to"}
		}
		if c.Status != model.ContractDispute || c.Dispute == nil {
			return &InvalidTransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), Action: "resolve dispute"}
		}

		paymentID := req.PaymentID
		if paymentID == "" {
			paymentID = c.Dispute.PaymentID
		}
		if paymentID == "" && req.Outcome != DisputeRestore {
			return &ValidationError{Field: "paymentId", Message: "is required for outcome " + string(req.Outcome)}
		}

		now := s.now()
		var (
			p *model.Payment
			m *model.Milestone
		)
		if req.Outcome != DisputeRestore {
			p, err = loadPayment(ctx, tx, paymentID)
			if err != nil {
				return err
			}
			if p.ContractID != c.ID {
				return &ValidationError{Field: "paymentId", Message: "does not belong to the contract"}
			}
			m = c.Milestone(p.MilestoneID)
			if m == nil {
				return &NotFoundError{Kind: "milestone", ID: p.MilestoneID}
			}
		}

		switch req.Outcome {
		case DisputeRefund:
			if err := s.refund(ctx, tx, fx, p, now); err != nil {
				return err
			}
			if !m.Status.Terminal() {
				from, err := transitionMilestone(m, MilestoneVoid)
				if err != nil {
					return err
				}
				m.CancelledAt = &now
				fx.moved("milestone", string(from), string(m.Status))
			}
		case DisputeRelease:
			if p.Status != model.PaymentEscrowed {
				return &InvalidTransitionError{Entity: "payment", ID: p.ID, From: string(p.Status), Action: string(PaymentRelease), Reason: "only escrowed funds can be released"}
			}
			from, err := transitionMilestone(m, MilestoneAward)
			if err != nil {
				return err
			}
			if err := s.payOut(ctx, tx, fx, p, now); err != nil {
				return err
			}
			m.CompletedAt = &now
			fx.moved("milestone", string(from), string(m.Status))
		}
		c.RecomputeProgress()

		prior := c.Dispute.PriorStatus
		if prior == "" || prior == model.ContractDispute {
			prior = model.ContractActive
		}
		c.Dispute = nil
		c.UpdatedAt = now

		ev := s.event(fx, now, c.ID, milestoneOf(m), paymentID, model.EventDisputeResolved, req.ResolverID, model.EventData{
			Outcome:  string(req.Outcome),
			Reason:   req.Note,
			Progress: progressPtr(c),
		})
		for _, uid := range []string{c.ClientID, c.FreelancerID} {
			s.notify(fx, ev, uid, model.NotifyDisputeResolved,
				"Dispute resolved",
				fmt.Sprintf("The dispute on %q was resolved: %s.", c.Title, req.Outcome),
				s.link("/contracts/%s", c.ID))
		}

		switch req.Outcome {
		case DisputeRefund:
			refunded := s.event(fx, now, c.ID, m.ID, p.ID, model.EventPaymentRefunded, req.ResolverID, model.EventData{
				Amount:   p.Amount.Gross,
				Currency: p.Amount.Currency,
				Reason:   "dispute_resolution",
			})
			s.notify(fx, refunded, c.ClientID, model.NotifyPaymentRefunded,
				"Payment refunded",
				fmt.Sprintf("%.2f %s has been refunded after the dispute.", p.Amount.Gross, p.Amount.Currency),
				s.link("/contracts/%s/payments/%s", c.ID, p.ID))
		case DisputeRelease:
			released := s.event(fx, now, c.ID, m.ID, p.ID, model.EventMilestonePaymentReleased, req.ResolverID, model.EventData{
				Amount:   p.Amount.Net,
				Currency: p.Amount.Currency,
				Reason:   "dispute_resolution",
			})
			s.notify(fx, released, c.FreelancerID, model.NotifyPaymentReleased,
				"Payment released",
				fmt.Sprintf("%.2f %s has been released to you after the dispute.", p.Amount.Net, p.Amount.Currency),
				s.link("/contracts/%s/payments/%s", c.ID, p.ID))
		}

		if req.Outcome == DisputeRelease && c.AllMilestonesSettled() {
			if err := s.completeContract(fx, c, req.ResolverID, now); err != nil {
				return err
			}
		} else {
			from, err := transitionContract(c, prior)
			if err != nil {
				return err
			}
			fx.moved("contract", string(from), string(c.Status))
		}
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Dispute resolved",
		zap.String("contract_id", out.ID),
		zap.String("outcome", string(req.Outcome)),
		zap.String("contract_status", string(out.Status)),
	)
	return out, nil
}

func milestoneOf(m *model.Milestone) string {
	if m == nil {
		return ""
	}
	return m.ID
}
