package main

import (
	"github.com/gin-gonic/gin"

	"leadqual-orchestrator/internal/auth"
	"leadqual-orchestrator/internal/gateway"
	"leadqual-orchestrator/internal/httpapi"
	"leadqual-orchestrator/internal/rbac"
)

type routeDeps struct {
	authManager *auth.Manager
	webhooks    *gateway.Handlers
	ops         httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; each validates its own shared secret).
	r.POST("/webhooks/hubspot", deps.webhooks.HubSpotWebhook)
	r.POST("/webhooks/vapi", deps.webhooks.VapiWebhook)

	// Ops API.
	v1 := r.Group("/v1")
	v1.POST("/auth/login", deps.ops.Login)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(deps.authManager))
	{
		protected.GET("/attempts", rbac.RequireAnyRole(rbac.RoleOperator), deps.ops.ListAttempts)
		protected.GET("/failed-leads", rbac.RequireAnyRole(rbac.RoleOperator), deps.ops.ListFailedLeads)
		protected.GET("/audit", rbac.RequireAnyRole(rbac.RoleAdmin), deps.ops.ListAuditEvents)
	}
}
