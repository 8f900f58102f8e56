package handler

import (
	"net/http"
	"time"

	"escrowhub/internal/escrow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ContractHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewContractHandler(svc *escrow.Service, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{svc: svc, logger: logger}
}

type milestoneDraft struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount" binding:"required,gt=0"`
	DueDate     *time.Time `json:"dueDate"`
}

type createContractRequest struct {
	FreelancerID string           `json:"freelancerId" binding:"required"`
	ProposalID   string           `json:"proposalId"`
	Title        string           `json:"title" binding:"required"`
	Currency     string           `json:"currency" binding:"required"`
	StartDate    *time.Time       `json:"startDate"`
	EndDate      *time.Time       `json:"endDate"`
	Milestones   []milestoneDraft `json:"milestones" binding:"required,min=1,dive"`
}

// Create POST /api/contracts
func (h *ContractHandler) Create(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "freelancerId, title, currency and at least one milestone are required")
		return
	}
	userID, _ := actor(c)

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = *req.StartDate
	}
	drafts := make([]escrow.MilestoneDraft, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		drafts = append(drafts, escrow.MilestoneDraft{
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
		})
	}

	contract, err := h.svc.CreateContract(c.Request.Context(), escrow.CreateContractRequest{
		ClientID:     userID,
		FreelancerID: req.FreelancerID,
		ProposalID:   req.ProposalID,
		Title:        req.Title,
		Currency:     req.Currency,
		StartDate:    start,
		EndDate:      req.EndDate,
		Milestones:   drafts,
	})
	if err != nil {
		respondError(c, h.logger, "create_contract", err)
		return
	}
	c.JSON(http.StatusCreated, contract)
}

// Get GET /api/contracts/:id
func (h *ContractHandler) Get(c *gin.Context) {
	contract, err := h.svc.GetContract(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		respondError(c, h.logger, "get_contract", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Accept POST /api/contracts/:id/accept
func (h *ContractHandler) Accept(c *gin.Context) {
	userID, _ := actor(c)
	contract, err := h.svc.AcceptContract(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, h.logger, "accept_contract", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Events GET /api/contracts/:id/events
func (h *ContractHandler) Events(c *gin.Context) {
	events, err := h.svc.ListContractEvents(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		respondError(c, h.logger, "list_contract_events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

type openDisputeRequest struct {
	Reason    string `json:"reason" binding:"required"`
	PaymentID string `json:"paymentId"`
}

// OpenDispute POST /api/contracts/:id/disputes
func (h *ContractHandler) OpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason is required")
		return
	}
	userID, _ := actor(c)

	contract, err := h.svc.OpenDispute(c.Request.Context(), escrow.OpenDisputeRequest{
		ContractID: c.Param("id"),
		ActorID:    userID,
		Reason:     req.Reason,
		PaymentID:  req.PaymentID,
	})
	if err != nil {
		respondError(c, h.logger, "open_dispute", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

type resolveDisputeRequest struct {
	Outcome   string `json:"outcome" binding:"required,oneof=refund release restore"`
	PaymentID string `json:"paymentId"`
	Note      string `json:"note"`
}

// ResolveDispute POST /api/contracts/:id/disputes/resolve
func (h *ContractHandler) ResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "outcome must be one of refund, release, restore")
		return
	}
	userID, _ := actor(c)

	contract, err := h.svc.ResolveDispute(c.Request.Context(), escrow.ResolveDisputeRequest{
		ContractID: c.Param("id"),
		ResolverID: userID,
		Outcome:    escrow.DisputeOutcome(req.Outcome),
		PaymentID:  req.PaymentID,
		Note:       req.Note,
	})
	if err != nil {
		respondError(c, h.logger, "resolve_dispute", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}
