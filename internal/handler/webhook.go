package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/provider"
	"escrowhub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks. Providers retry on any non-2xx
// answer, so everything the state machine has settled, including anomalies
// it has recorded, is acknowledged with 200.
type WebhookHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookHandler(svc *escrow.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, logger: logger, now: time.Now}
}

// Receive returns the POST handler for one provider.
func (h *WebhookHandler) Receive(v *provider.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithTrace(c.Request.Context(), h.logger).With(zap.String("provider", string(v.Provider())))

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if err := v.Verify(body, c.GetHeader(v.Header())); err != nil {
			log.Warn("Rejected webhook signature", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var payload provider.CallbackPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		if err := payload.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cb := payload.ToCallback(v.Provider(), h.now().UTC())
		log = log.With(zap.String("payment_id", cb.PaymentID), zap.String("status", string(cb.Status)))

		res, err := h.svc.HandleProviderCallback(c.Request.Context(), cb)
		switch {
		case err == nil:
			log.Info("Webhook processed", zap.String("outcome", string(res.Outcome)))
			c.JSON(http.StatusOK, gin.H{"success": true})
		case escrow.IsInconsistentState(err):
			// Already recorded as an anomaly for manual reconciliation.
			c.JSON(http.StatusOK, gin.H{"success": true})
		case escrow.IsValidation(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case escrow.IsNotFound(err):
			log.Warn("Webhook for unknown payment")
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		default:
			log.Error("Webhook processing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}

// Liveness answers the GET probe on a webhook path.
func (h *WebhookHandler) Liveness(v *provider.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"provider": v.Provider(),
			"message":  "webhook endpoint is live",
		})
	}
}
