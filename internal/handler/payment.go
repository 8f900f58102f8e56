package handler

import (
	"net/http"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewPaymentHandler(svc *escrow.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

type initiatePaymentRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"required"`
	Phone       string  `json:"phone" binding:"required"`
	Description string  `json:"description"`
	ContractID  string  `json:"contractId" binding:"required"`
	MilestoneID string  `json:"milestoneId" binding:"required"`
}

type initiatePaymentResponse struct {
	TransactionID string         `json:"transactionId"`
	Status        string         `json:"status"`
	PaymentID     string         `json:"paymentId"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	Phone         string         `json:"phone"`
	Description   string         `json:"description,omitempty"`
	ContractID    string         `json:"contractId"`
	MilestoneID   string         `json:"milestoneId"`
	Provider      model.Provider `json:"provider"`
}

// Initiate returns the mobile-money initiation handler for p. The provider
// API itself is called by the payment gateway from the returned reference.
func (h *PaymentHandler) Initiate(p model.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "amount, currency, phone, contractId and milestoneId are required")
			return
		}
		userID, _ := actor(c)

		payment, err := h.svc.InitiatePayment(c.Request.Context(), escrow.InitiatePaymentRequest{
			ContractID:  req.ContractID,
			MilestoneID: req.MilestoneID,
			ActorID:     userID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Method:      model.NewMobileMoneyMethod(p, req.Phone),
			Description: req.Description,
		})
		if err != nil {
			respondError(c, h.logger, "initiate_payment", err)
			return
		}

		c.JSON(http.StatusOK, initiatePaymentResponse{
			TransactionID: payment.Reference,
			Status:        string(payment.Status),
			PaymentID:     payment.ID,
			Amount:        payment.Amount.Gross,
			Currency:      payment.Amount.Currency,
			Phone:         req.Phone,
			Description:   payment.Description,
			ContractID:    payment.ContractID,
			MilestoneID:   payment.MilestoneID,
			Provider:      p,
		})
	}
}

// GetPayment GET /api/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, err := h.svc.GetPayment(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		respondError(c, h.logger, "get_payment", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
