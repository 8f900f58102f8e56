package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrowhub/internal/model"
	"escrowhub/pkg/logger"

	"go.uber.org/zap"
)

type MilestoneDraft struct {
	Title       string
	Description string
	Amount      float64
	DueDate     *time.Time
}

// CreateContractRequest is issued when a client accepts a proposal.
type CreateContractRequest struct {
	ClientID     string
	FreelancerID string
	ProposalID   string
	Title        string
	Currency     string
	StartDate    time.Time
	EndDate      *time.Time
	Milestones   []MilestoneDraft
}

func (r *CreateContractRequest) validate() error {
	for _, f := range [][2]string{
		{"clientId", r.ClientID},
		{"freelancerId", r.FreelancerID},
		{"title", r.Title},
	} {
		if err := required(f[0], f[1]); err != nil {
			return err
		}
	}
	if r.ClientID == r.FreelancerID {
		return &ValidationError{Field: "freelancerId", Message: "must differ from the client"}
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if !currencyPattern.MatchString(r.Currency) {
		return &ValidationError{Field: "currency", Message: "must be a 3-letter ISO code"}
	}
	if len(r.Milestones) == 0 {
		return &ValidationError{Field: "milestones", Message: "at least one milestone is required"}
	}
	for i, m := range r.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			return &ValidationError{Field: fmt.Sprintf("milestones[%d].title", i), Message: "is required"}
		}
		if m.Amount <= 0 {
			return &ValidationError{Field: fmt.Sprintf("milestones[%d].amount", i), Message: "must be positive"}
		}
	}
	if r.EndDate != nil && !r.StartDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return &ValidationError{Field: "endDate", Message: "must not precede startDate"}
	}
	return nil
}

// CreateContract creates a contract awaiting the freelancer's acceptance,
// with all milestones pending.
func (s *Service) CreateContract(ctx context.Context, req CreateContractRequest) (*model.Contract, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "create_contract", func(ctx context.Context, tx Tx, fx *txEffects) error {
		now := s.now()
		start := req.StartDate
		if start.IsZero() {
			start = now
		}
		c := &model.Contract{
			ID:           s.newID(),
			ClientID:     req.ClientID,
			FreelancerID: req.FreelancerID,
			ProposalID:   req.ProposalID,
			Title:        req.Title,
			Terms:        model.Terms{Currency: req.Currency, StartDate: start, EndDate: req.EndDate},
			Status:       model.ContractPendingAcceptance,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		for _, d := range req.Milestones {
			c.Milestones = append(c.Milestones, model.Milestone{
				ID:          s.newID(),
				Title:       d.Title,
				Description: d.Description,
				Amount:      roundCents(d.Amount),
				DueDate:     d.DueDate,
				Status:      model.MilestonePending,
			})
			c.Terms.Amount += roundCents(d.Amount)
		}
		c.Terms.Amount = roundCents(c.Terms.Amount)
		if err := tx.InsertContract(ctx, c); err != nil {
			return err
		}

		ev := s.event(fx, now, c.ID, "", "", model.EventContractCreated, req.ClientID, model.EventData{
			Amount:   c.Terms.Amount,
			Currency: c.Terms.Currency,
			ToStatus: string(c.Status),
		})
		s.notify(fx, ev, c.FreelancerID, model.NotifyContractCreated,
			"New contract offer",
			fmt.Sprintf("You have a new contract %q worth %.2f %s.", c.Title, c.Terms.Amount, c.Terms.Currency),
			s.link("/contracts/%s", c.ID))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Contract created",
		zap.String("contract_id", out.ID),
		zap.Int("milestones", len(out.Milestones)),
	)
	return out, nil
}

// AcceptContract activates a contract on behalf of its freelancer.
func (s *Service) AcceptContract(ctx context.Context, contractID, freelancerID string) (*model.Contract, error) {
	if err := required("contractId", contractID); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *model.Contract
	_, err := s.runTx(ctx, "accept_contract", func(ctx context.Context, tx Tx, fx *txEffects) error {
		c, err := loadContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if c.FreelancerID != freelancerID {
			return &ForbiddenError{ActorID: freelancerID, Action: "accept contract " + c.ID}
		}
		if c.Status != model.ContractPendingAcceptance {
			return &InvalidTransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), Action: "accept"}
		}
		from, err := transitionContract(c, model.ContractActive)
		if err != nil {
			return err
		}
		now := s.now()
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		fx.moved("contract", string(from), string(c.Status))

		ev := s.event(fx, now, c.ID, "", "", model.EventContractAccepted, freelancerID, model.EventData{
			FromStatus: string(from),
			ToStatus:   string(c.Status),
		})
		s.notify(fx, ev, c.ClientID, model.NotifyContractAccepted,
			"Contract accepted",
			fmt.Sprintf("%q was accepted. Fund the first milestone to get started.", c.Title),
			s.link("/contracts/%s", c.ID))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
