package httpserver

import (
	"context"
	"net/http"
	"time"

	"escrowhub/internal/handler"
	"escrowhub/internal/model"
	"escrowhub/internal/provider"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	Payments      *handler.PaymentHandler
	Contracts     *handler.ContractHandler
	Milestones    *handler.MilestoneHandler
	Notifications *handler.NotificationHandler
	Webhooks      *handler.WebhookHandler
	Admin         *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	h Handlers,
	verifiers map[model.Provider]*provider.Verifier,
	jwtSecret string,
	checks map[string]ReadinessCheck,
	log *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware(), AccessLog(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks authenticate with their signature header.
	webhooks := r.Group("/api/webhooks")
	for p, v := range verifiers {
		webhooks.POST("/"+string(p), h.Webhooks.Receive(v))
		webhooks.GET("/"+string(p), h.Webhooks.Liveness(v))
	}

	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/payments/mtn", RequirePermission(rbac.PermissionInitiatePayment), h.Payments.Initiate(model.ProviderMTN))
		api.POST("/payments/orange", RequirePermission(rbac.PermissionInitiatePayment), h.Payments.Initiate(model.ProviderOrange))
		api.GET("/payments/:id", h.Payments.GetPayment)

		api.POST("/contracts", RequirePermission(rbac.PermissionCreateContract), h.Contracts.Create)
		api.GET("/contracts/:id", h.Contracts.Get)
		api.POST("/contracts/:id/accept", RequirePermission(rbac.PermissionAcceptContract), h.Contracts.Accept)
		api.GET("/contracts/:id/events", h.Contracts.Events)
		api.POST("/contracts/:id/disputes", RequirePermission(rbac.PermissionOpenDispute), h.Contracts.OpenDispute)
		api.POST("/contracts/:id/disputes/resolve", RequirePermission(rbac.PermissionResolveDispute), h.Contracts.ResolveDispute)

		api.POST("/milestones/:id/submit", RequirePermission(rbac.PermissionSubmitMilestone), h.Milestones.Submit)
		api.POST("/milestones/:id/approve", RequirePermission(rbac.PermissionApproveMilestone), h.Milestones.Approve)
		api.POST("/milestones/:id/cancel", RequirePermission(rbac.PermissionApproveMilestone), h.Milestones.Cancel)

		api.GET("/notifications", h.Notifications.List)
		api.POST("/notifications/:id/read", h.Notifications.MarkRead)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayFailedEvents)
		admin.GET("/anomalies", RequirePermission(rbac.PermissionReadAnomalies), h.Admin.ListAnomalies)
		admin.POST("/reconcile", RequirePermission(rbac.PermissionRunReconcile), h.Admin.RunReconcile)
	}

	return &Router{Engine: r}
}
