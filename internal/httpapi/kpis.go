package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"call-insights/internal/reporting"
	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultKPIRange = 30 * 24 * time.Hour

// ListKPIs serves /v1/kpis?period=daily&from=&to=. The range defaults to the
// last 30 days.
func (h Handlers) ListKPIs(c *gin.Context) {
	if h.KPIs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "kpis not configured"})
		return
	}
	period := reporting.PeriodType(c.DefaultQuery("period", string(reporting.PeriodDaily)))
	if !period.Valid() {
		badRequest(c, "period must be daily, weekly or monthly")
		return
	}
	from, ok := queryTime(c, "from")
	if !ok {
		badRequest(c, "invalid from")
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		badRequest(c, "invalid to")
		return
	}
	if to.IsZero() {
		to = h.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultKPIRange)
	}

	out, err := h.KPIs.List(c.Request.Context(), period, reporting.TimeRange{From: from, To: to})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "from": from, "to": to, "kpis": out})
}

type recomputeRequest struct {
	// Period is daily, weekly, monthly, or empty for all three.
	Period reporting.PeriodType `json:"period"`
	// At selects the period containing this instant; defaults to now.
	At string `json:"at"`
}

// RecomputeKPIs recomputes on demand and audits the operator action.
func (h Handlers) RecomputeKPIs(c *gin.Context) {
	if h.KPIs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "kpis not configured"})
		return
	}
	var req recomputeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	at := h.now()
	if strings.TrimSpace(req.At) != "" {
		t, err := parseTime(req.At)
		if err != nil {
			badRequest(c, "invalid at")
			return
		}
		at = t
	}

	ctx := c.Request.Context()
	var (
		out []reporting.KPI
		err error
	)
	if req.Period == "" {
		out, err = h.KPIs.RecomputeCurrent(ctx, at)
	} else {
		var k reporting.KPI
		k, err = h.KPIs.Recompute(ctx, req.Period, at)
		if err == nil {
			out = []reporting.KPI{k}
		}
	}
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			badRequest(c, "period must be daily, weekly or monthly")
			return
		}
		writeError(c, err)
		return
	}

	if h.Audit != nil {
		userID, role := actorFrom(c)
		meta, _ := json.Marshal(gin.H{"at": at, "periods": len(out)})
		period := string(req.Period)
		if period == "" {
			period = "all"
		}
		if err := h.Audit.LogKPIRecompute(ctx, userID, role, period, string(meta)); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"kpis": out})
}
