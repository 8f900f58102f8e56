package httpserver

import (
	"net/http"

	"escrowhub/internal/handler"
	"escrowhub/pkg/rbac"

	"github.com/gin-gonic/gin"
)

// RequirePermission rejects callers whose role lacks permission. It must run
// after AuthMiddleware.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(handler.CtxUserID)
		if userID == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "user not authenticated")
			return
		}

		if err := rbac.CheckPermission(userID, c.GetString(handler.CtxRole), permission); err != nil {
			abort(c, http.StatusForbidden, "forbidden", err.Error())
			return
		}

		c.Next()
	}
}
