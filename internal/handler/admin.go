package handler

import (
	"context"
	"errors"
	"net/http"

	"escrowhub/internal/escrow"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/outbox"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Replayer is satisfied by *outbox.ReplayService.
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID string) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

// ReconcileRunner is satisfied by *escrow.Reconciler.
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (escrow.ReconcileSummary, error)
}

type AdminHandler struct {
	svc        *escrow.Service
	replay     Replayer
	reconciler ReconcileRunner
	logger     *zap.Logger
}

// NewAdminHandler accepts a nil replayer or reconciler; the matching
// endpoints then answer 503.
func NewAdminHandler(svc *escrow.Service, replay Replayer, reconciler ReconcileRunner, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, replay: replay, reconciler: reconciler, logger: logger}
}

// ReplayOutboxEvent POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if h.replay == nil {
		abortWithError(c, http.StatusServiceUnavailable, "unavailable", "outbox replay is not configured")
		return
	}
	eventID := c.Query("id")
	if eventID == "" {
		badRequest(c, "missing event id")
		return
	}

	log := logger.WithTrace(c.Request.Context(), h.logger).With(zap.String("event_id", eventID))
	if err := h.replay.ReplayEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			abortWithError(c, http.StatusNotFound, "not_found", "outbox event not found")
			return
		}
		log.Error("Outbox replay failed", zap.Error(err))
		abortWithError(c, http.StatusBadGateway, "replay_failed", "failed to replay event")
		return
	}
	log.Info("Outbox event replayed")
	c.JSON(http.StatusOK, gin.H{"status": "replayed", "event_id": eventID})
}

// ReplayFailedEvents POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	if h.replay == nil {
		abortWithError(c, http.StatusServiceUnavailable, "unavailable", "outbox replay is not configured")
		return
	}
	count, err := h.replay.ReplayFailedEvents(c.Request.Context(), queryLimit(c))
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Bulk outbox replay failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "internal_error", "failed to replay events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "success_count": count})
}

// ListAnomalies GET /admin/anomalies?limit=50
func (h *AdminHandler) ListAnomalies(c *gin.Context) {
	list, err := h.svc.ListAnomalies(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, h.logger, "list_anomalies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"anomalies": list,
		"count":     len(list),
	})
}

// RunReconcile POST /admin/reconcile
func (h *AdminHandler) RunReconcile(c *gin.Context) {
	if h.reconciler == nil {
		abortWithError(c, http.StatusServiceUnavailable, "unavailable", "reconciliation is not configured")
		return
	}
	summary, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "reconcile", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
