package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/auth"
	"call-insights/internal/calls"
	"call-insights/internal/pipeline"
	"call-insights/internal/rbac"
	"call-insights/internal/reporting"
	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallReader is the read side of the call record store.
type CallReader interface {
	GetCall(ctx context.Context, id string) (calls.Call, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error)
	ListCalls(ctx context.Context, f calls.ListFilter) ([]calls.Call, error)
	GetSummary(ctx context.Context, callID string) (calls.Summary, error)
}

// Reprocessor re-enqueues a finished call.
type Reprocessor interface {
	Reprocess(ctx context.Context, actor pipeline.Actor, callID string) (calls.Task, error)
}

// KPIAuditor records operator-triggered KPI recomputes.
type KPIAuditor interface {
	LogKPIRecompute(ctx context.Context, actorUserID, actorRole, periodType, metadata string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Calls    CallReader
	Pipeline Reprocessor
	Actions  *actions.Service
	KPIs     *reporting.Engine
	Audit    KPIAuditor

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// --- Auth ---

type tokenRequest struct {
	OperatorKey string `json:"operator_key"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
}

// IssueToken exchanges the static operator key for a token pair.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Role == "" {
		req.Role = rbac.RoleOperator
	}
	if req.UserID == "" || !rbac.Valid(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a valid role required"})
		return
	}
	pair, err := h.Auth.ExchangeOperatorKey(h.now(), req.OperatorKey, req.UserID, req.Role)
	if errors.Is(err, auth.ErrInvalidOperatorKey) {
		logger.FromGin(c).Warn("operator key rejected", "user_id", req.UserID)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator key"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- helpers ---

func actorFrom(c *gin.Context) (userID, role string) {
	userID, _ = auth.UserID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return userID, role
}

// writeError maps domain sentinels onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, actions.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, calls.ErrInvalidState):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call is still being processed"})
	case errors.Is(err, actions.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid transition"})
	case errors.Is(err, actions.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseTime accepts RFC3339 or YYYY-MM-DD (UTC midnight).
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, true
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
