package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowhub/internal/model"
	"escrowhub/pkg/logger"

	"go.uber.org/zap"
)

// lockedForClient rejects client actions on a disputed contract.
func lockedForClient(c *model.Contract) error {
	if c.Status == model.ContractDispute {
		return &ContractLockedError{ContractID: c.ID}
	}
	return nil
}

// ApproveMilestone completes an in-review milestone and pays out its escrow.
// When every milestone is settled the contract completes as well.
func (s *Service) ApproveMilestone(ctx context.Context, milestoneID, approverID string) (*model.Contract, error) {
	if err := required("milestoneId", milestoneID); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "approve_milestone", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, m, err := loadContractForMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if c.ClientID != approverID {
			return &ForbiddenError{ActorID: approverID, Action: "approve milestone " + m.ID}
		}
		if err := lockedForClient(c); err != nil {
			return err
		}
		if _, ok := NextMilestoneStatus(m.Status, MilestoneApprove); !ok {
			return &InvalidTransitionError{Entity: "milestone", ID: m.ID, From: string(m.Status), Action: string(MilestoneApprove)}
		}

		p, err := tx.FindFundingPayment(ctx, m.ID)
		if errors.Is(err, ErrNotFound) || (err == nil && p.Status != model.PaymentEscrowed) {
			return &InconsistentStateError{
				Kind:   model.AnomalyMilestoneState,
				Detail: fmt.Sprintf("milestone %s is in review without an escrowed payment", m.ID),
			}
		}
		if err != nil {
			return err
		}

		now := s.now()
		if err := s.payOut(ctx, tx, fx, p, now); err != nil {
			return err
		}

		from, err := transitionMilestone(m, MilestoneApprove)
		if err != nil {
			return err
		}
		m.CompletedAt = &now
		c.RecomputeProgress()
		c.UpdatedAt = now
		fx.moved("milestone", string(from), string(m.Status))

		ev := s.event(fx, now, c.ID, m.ID, p.ID, model.EventMilestoneApproved, approverID, model.EventData{
			Amount:     m.Amount,
			Currency:   p.Amount.Currency,
			FromStatus: string(from),
			ToStatus:   string(m.Status),
			Progress:   progressPtr(c),
		})
		s.notify(fx, ev, c.FreelancerID, model.NotifyMilestoneApproved,
			"Milestone approved",
			fmt.Sprintf("%q was approved by the client.", m.Title),
			s.link("/contracts/%s/milestones/%s", c.ID, m.ID))
		released := s.event(fx, now, c.ID, m.ID, p.ID, model.EventMilestonePaymentReleased, approverID, model.EventData{
			Amount:   p.Amount.Net,
			Currency: p.Amount.Currency,
		})
		s.notify(fx, released, c.FreelancerID, model.NotifyPaymentReleased,
			"Payment released",
			fmt.Sprintf("%.2f %s for %q has been released to you.", p.Amount.Net, p.Amount.Currency, m.Title),
			s.link("/contracts/%s/payments/%s", c.ID, p.ID))

		if c.AllMilestonesSettled() {
			if err := s.completeContract(fx, c, approverID, now); err != nil {
				return err
			}
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
	logger.WithTrace(ctx, s.logger).Info("Milestone approved",
		zap.String("milestone_id", milestoneID),
		zap.String("contract_id", out.ID),
		zap.Float64("progress", out.Progress),
	)
	return out, nil
}

// payOut moves an escrowed payment through released to completed.
func (s *Service) payOut(ctx context.Context, tx Tx, fx *txEffects, p *model.Payment, now time.Time) error {
	from, err := transitionPayment(p, PaymentRelease)
	if err != nil {
		return err
	}
	if _, err := transitionPayment(p, PaymentSettle); err != nil {
		return err
	}
	if p.Escrow == nil {
		p.Escrow = &model.EscrowInfo{ReleaseCondition: model.ReleaseOnApproval}
	}
	p.Escrow.ReleasedAt = &now
	p.Escrow.CompletedAt = &now
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	fx.moved("payment", string(from), string(model.PaymentReleased))
	fx.moved("payment", string(model.PaymentReleased), string(p.Status))
	return nil
}

// refund returns the payment's funds to the client.
func (s *Service) refund(ctx context.Context, tx Tx, fx *txEffects, p *model.Payment, now time.Time) error {
	from, err := transitionPayment(p, PaymentRefund)
	if err != nil {
		return err
	}
	if p.Escrow != nil {
		p.Escrow.RefundedAt = &now
	}
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	fx.moved("payment", string(from), string(p.Status))
	return nil
}

func (s *Service) completeContract(fx *txEffects, c *model.Contract, actorID string, now time.Time) error {
	from, err := transitionContract(c, model.ContractCompleted)
	if err != nil {
		return err
	}
	fx.moved("contract", string(from), string(c.Status))
	ev := s.event(fx, now, c.ID, "", "", model.EventContractCompleted, actorID, model.EventData{
		Amount:     c.Terms.Amount,
		Currency:   c.Terms.Currency,
		FromStatus: string(from),
		ToStatus:   string(c.Status),
		Progress:   progressPtr(c),
	})
	for _, uid := range []string{c.ClientID, c.FreelancerID} {
		s.notify(fx, ev, uid, model.NotifyContractCompleted,
			"Contract completed",
			fmt.Sprintf("All milestones of %q are settled.", c.Title),
			s.link("/contracts/%s", c.ID))
	}
	return nil
}

// SubmitMilestoneRequest hands in work for review.
type SubmitMilestoneRequest struct {
	MilestoneID  string
	FreelancerID string
	Description  string
	Links        []string
	Files        []model.SubmissionFile
}

// SubmitMilestone moves a funded milestone to review.
func (s *Service) SubmitMilestone(ctx context.Context, req SubmitMilestoneRequest) (*model.Contract, error) {
	if err := required("milestoneId", req.MilestoneID); err != nil {
		return nil, err
	}
	if err := required("description", req.Description); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "submit_milestone", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, m, err := loadContractForMilestone(ctx, tx, req.MilestoneID)
		if err != nil {
			return err
		}
		if c.FreelancerID != req.FreelancerID {
			return &ForbiddenError{ActorID: req.FreelancerID, Action: "submit milestone " + m.ID}
		}
		if err := lockedForClient(c); err != nil {
			return err
		}
		from, err := transitionMilestone(m, MilestoneSubmit)
		if err != nil {
			return err
		}

		now := s.now()
		m.Submission = &model.Submission{
			Description: req.Description,
			Links:       req.Links,
			Files:       req.Files,
			SubmittedAt: now,
		}
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		fx.moved("milestone", string(from), string(m.Status))

		ev := s.event(fx, now, c.ID, m.ID, "", model.EventMilestoneSubmitted, req.FreelancerID, model.EventData{
			FromStatus: string(from),
			ToStatus:   string(m.Status),
		})
		s.notify(fx, ev, c.ClientID, model.NotifyMilestoneSubmitted,
			"Work submitted",
			fmt.Sprintf("%q is ready for your review.", m.Title),
			s.link("/contracts/%s/milestones/%s", c.ID, m.ID))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelMilestone cancels a pending or active milestone. An active
// milestone's escrowed payment is refunded in the same transaction.
func (s *Service) CancelMilestone(ctx context.Context, milestoneID, clientID, reason string) (*model.Contract, error) {
	if err := required("milestoneId", milestoneID); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "cancel_milestone", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, m, err := loadContractForMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if c.ClientID != clientID {
			return &ForbiddenError{ActorID: clientID, Action: "cancel milestone " + m.ID}
		}
		if err := lockedForClient(c); err != nil {
			return err
		}
		if _, ok := NextMilestoneStatus(m.Status, MilestoneCancel); !ok {
			return &InvalidTransitionError{Entity: "milestone", ID: m.ID, From: string(m.Status), Action: string(MilestoneCancel)}
		}

		now := s.now()
		funding, err := tx.FindFundingPayment(ctx, m.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			funding = nil
		case err != nil:
			return err
		case funding.Status == model.PaymentPending:
			return &InvalidTransitionError{
				Entity: "milestone", ID: m.ID, From: string(m.Status), Action: string(MilestoneCancel),
				Reason: "a funding payment is awaiting the provider",
			}
		default:
			if err := s.refund(ctx, tx, fx, funding, now); err != nil {
				return err
			}
		}

		from, err := transitionMilestone(m, MilestoneCancel)
		if err != nil {
			return err
		}
		m.CancelledAt = &now
		c.RecomputeProgress()
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		fx.moved("milestone", string(from), string(m.Status))

		ev := s.event(fx, now, c.ID, m.ID, "", model.EventMilestoneCancelled, clientID, model.EventData{
			Reason:     reason,
			FromStatus: string(from),
			ToStatus:   string(m.Status),
		})
		s.notify(fx, ev, c.FreelancerID, model.NotifyMilestoneCancelled,
			"Milestone cancelled",
			fmt.Sprintf("%q was cancelled by the client.", m.Title),
			s.link("/contracts/%s", c.ID))

		if funding != nil {
			refunded := s.event(fx, now, c.ID, m.ID, funding.ID, model.EventPaymentRefunded, clientID, model.EventData{
				Amount:   funding.Amount.Gross,
				Currency: funding.Amount.Currency,
				Reason:   "milestone_cancelled",
			})
			s.notify(fx, refunded, c.ClientID, model.NotifyPaymentRefunded,
				"Payment refunded",
				fmt.Sprintf("%.2f %s for %q has been refunded.", funding.Amount.Gross, funding.Amount.Currency, m.Title),
				s.link("/contracts/%s/payments/%s", c.ID, funding.ID))
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
