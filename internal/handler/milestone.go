package handler

import (
	"net/http"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MilestoneHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewMilestoneHandler(svc *escrow.Service, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{svc: svc, logger: logger}
}

type submitMilestoneRequest struct {
	Description string                 `json:"description" binding:"required"`
	Links       []string               `json:"links"`
	Files       []model.SubmissionFile `json:"files"`
}

// Submit POST /api/milestones/:id/submit
func (h *MilestoneHandler) Submit(c *gin.Context) {
	var req submitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "description is required")
		return
	}
	userID, _ := actor(c)

	contract, err := h.svc.SubmitMilestone(c.Request.Context(), escrow.SubmitMilestoneRequest{
		MilestoneID:  c.Param("id"),
		FreelancerID: userID,
		Description:  req.Description,
		Links:        req.Links,
		Files:        req.Files,
	})
	if err != nil {
		respondError(c, h.logger, "submit_milestone", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Approve POST /api/milestones/:id/approve
func (h *MilestoneHandler) Approve(c *gin.Context) {
	userID, _ := actor(c)
	contract, err := h.svc.ApproveMilestone(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, h.logger, "approve_milestone", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Cancel POST /api/milestones/:id/cancel. The body is optional.
func (h *MilestoneHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	userID, _ := actor(c)

	contract, err := h.svc.CancelMilestone(c.Request.Context(), c.Param("id"), userID, req.Reason)
	if err != nil {
		respondError(c, h.logger, "cancel_milestone", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}
