package main

import (
	"context"
	"net/http"

	"call-insights/internal/auth"
	"call-insights/internal/httpapi"
	"call-insights/internal/rbac"
	"call-insights/internal/telephony"
	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth    *auth.Manager
	Webhook telephony.WebhookHandler
	API     httpapi.Handlers

	// Health reports dependency readiness for /healthz. Nil means always ready.
	Health func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, HMAC verified by the gate).
	r.POST("/webhooks/goto/call-ended", d.Webhook.HandleCallEnded)

	v1 := r.Group("/v1")
	v1.POST("/auth/token", d.API.IssueToken)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.Auth))

	read := rbac.RequireAnyRole(rbac.Readers...)
	write := rbac.RequireAnyRole(rbac.Writers...)

	calls := protected.Group("/calls")
	{
		calls.GET("", read, d.API.ListCalls)
		calls.GET("/:id", read, d.API.GetCall)
		calls.GET("/:id/transcript", read, d.API.GetTranscript)
		calls.GET("/:id/action-items", read, d.API.CallActionItems)
		calls.POST("/:id/reprocess", write, d.API.Reprocess)
	}

	items := protected.Group("/action-items")
	{
		items.GET("", read, d.API.ListActionItems)
		items.GET("/stats", read, d.API.ActionItemStats)
		items.GET("/urgent", read, d.API.UrgentActionItems)
		items.GET("/overdue", read, d.API.OverdueActionItems)
		items.GET("/:id", read, d.API.GetActionItem)
		items.POST("/:id/transition", write, d.API.TransitionActionItem)
		items.PATCH("/:id", write, d.API.PatchActionItem)
	}

	kpis := protected.Group("/kpis")
	{
		kpis.GET("", read, d.API.ListKPIs)
		kpis.POST("/recompute", write, d.API.RecomputeKPIs)
	}
}
