package handler

import (
	"net/http"
	"strconv"

	"escrowhub/internal/escrow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type NotificationHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewNotificationHandler(svc *escrow.Service, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// List GET /api/notifications?unread=true&limit=20
func (h *NotificationHandler) List(c *gin.Context) {
	userID, _ := actor(c)
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))

	list, err := h.svc.ListNotifications(c.Request.Context(), userID, unread, queryLimit(c))
	if err != nil {
		respondError(c, h.logger, "list_notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": list,
		"count":         len(list),
	})
}

// MarkRead POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, _ := actor(c)
	if err := h.svc.MarkNotificationRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, h.logger, "mark_notification_read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// queryLimit reads ?limit, clamped to (0, maxListLimit].
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
