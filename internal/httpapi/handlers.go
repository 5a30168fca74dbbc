package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"leadqual-orchestrator/internal/audit"
	"leadqual-orchestrator/internal/auth"
	"leadqual-orchestrator/internal/orchestrator"
	"leadqual-orchestrator/internal/rbac"
)

// Handlers groups the ops API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth  *auth.Manager
	Orch  *orchestrator.Service
	Audit *audit.Service
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

// Login issues an access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, role required"})
		return
	}
	if req.Role != rbac.RoleOperator && req.Role != rbac.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), req.OperatorID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Pipeline visibility ---

// ListAttempts returns the newest call attempts.
// RBAC: operator or admin.
func (h Handlers) ListAttempts(c *gin.Context) {
	if h.Orch == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}
	attempts, err := h.Orch.RecentAttempts(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "attempt lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// ListFailedLeads returns leads whose CRM write-back permanently failed.
// RBAC: operator or admin.
func (h Handlers) ListFailedLeads(c *gin.Context) {
	if h.Orch == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}
	failed, err := h.Orch.FailedLeads(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed-lead lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed_leads": failed})
}

// ListAuditEvents returns the newest audit trail entries.
// RBAC: admin only.
func (h Handlers) ListAuditEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	events, err := h.Audit.Recent(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}
