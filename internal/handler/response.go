package handler

import (
	"net/http"

	"escrowhub/internal/escrow"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Keys under which the auth middleware stores the caller's identity.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// statusOf maps domain errors to HTTP statuses for client endpoints.
func statusOf(err error) int {
	switch {
	case escrow.IsValidation(err):
		return http.StatusBadRequest
	case escrow.IsNotFound(err):
		return http.StatusNotFound
	case escrow.IsForbidden(err):
		return http.StatusForbidden
	case escrow.IsInvalidTransition(err), escrow.IsContractLocked(err), escrow.IsInconsistentState(err):
		return http.StatusConflict
	case escrow.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the structured error body. Store details of internal
// errors are logged, never returned.
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	status := statusOf(err)
	log = logger.WithTrace(c.Request.Context(), log).With(zap.String("op", op), zap.Error(err))
	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		log.Error("Request failed")
		message = "internal server error"
	case status == http.StatusServiceUnavailable:
		log.Warn("Request failed transiently")
		message = "temporarily unavailable, retry later"
	case escrow.IsInconsistentState(err):
		log.Error("Request hit inconsistent payment state", zap.String("reconciliation", "required"))
	default:
		log.Info("Request rejected")
	}
	abortWithError(c, status, escrow.Code(err), message)
}

func badRequest(c *gin.Context, message string) {
	abortWithError(c, http.StatusBadRequest, "validation_failed", message)
}

// actor returns the authenticated user id and role.
func actor(c *gin.Context) (string, string) {
	return c.GetString(CtxUserID), c.GetString(CtxRole)
}

// viewer is the id used for party checks on reads. Operators holding
// anomaly:read see every document.
func viewer(c *gin.Context) string {
	userID, role := actor(c)
	if rbac.HasPermission(role, rbac.PermissionReadAnomalies) {
		return ""
	}
	return userID
}
