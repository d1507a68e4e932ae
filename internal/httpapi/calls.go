package httpapi

import (
	"context"
	"errors"
	"net/http"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
	"call-insights/internal/pipeline"
	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 50

type callDetail struct {
	Call        calls.Call     `json:"call"`
	Summary     *calls.Summary `json:"summary,omitempty"`
	ActionItems []actions.View `json:"action_items"`
}

// resolveCall accepts either the internal id or the provider call id.
func (h Handlers) resolveCall(ctx context.Context, id string) (calls.Call, error) {
	c, err := h.Calls.GetCall(ctx, id)
	if errors.Is(err, calls.ErrNotFound) {
		return h.Calls.GetCallByProviderID(ctx, id)
	}
	return c, err
}

func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	f := calls.ListFilter{
		Direction: calls.Direction(c.Query("direction")),
		State:     calls.State(c.Query("state")),
	}
	if f.Direction != "" && !f.Direction.Valid() {
		badRequest(c, "invalid direction")
		return
	}
	var ok bool
	if f.From, ok = queryTime(c, "from"); !ok {
		badRequest(c, "invalid from")
		return
	}
	if f.To, ok = queryTime(c, "to"); !ok {
		badRequest(c, "invalid to")
		return
	}
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		badRequest(c, "invalid limit")
		return
	}
	if f.Offset, ok = queryInt(c, "offset"); !ok {
		badRequest(c, "invalid offset")
		return
	}
	if f.Limit == 0 {
		f.Limit = defaultPageSize
	}

	out, err := h.Calls.ListCalls(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "limit": f.Limit, "offset": f.Offset})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	call, err := h.resolveCall(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := callDetail{Call: call, ActionItems: []actions.View{}}

	s, err := h.Calls.GetSummary(ctx, call.ID)
	switch {
	case err == nil:
		out.Summary = &s
	case !errors.Is(err, calls.ErrNotFound):
		writeError(c, err)
		return
	}

	if h.Actions != nil {
		items, err := h.Actions.ByCall(ctx, call.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		out.ActionItems = items
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetTranscript(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	call, err := h.resolveCall(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	s, err := h.Calls.GetSummary(ctx, call.ID)
	if err != nil && !errors.Is(err, calls.ErrNotFound) {
		writeError(c, err)
		return
	}
	if s.Transcript == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "transcript not available", "state": call.State})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call_id":                    call.ID,
		"provider_call_id":           call.ProviderCallID,
		"transcript":                 s.Transcript,
		"transcription_completed_at": s.TranscriptionCompletedAt,
	})
}

func (h Handlers) Reprocess(c *gin.Context) {
	if h.Calls == nil || h.Pipeline == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pipeline not configured"})
		return
	}
	ctx := c.Request.Context()
	call, err := h.resolveCall(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	userID, role := actorFrom(c)
	task, err := h.Pipeline.Reprocess(ctx, pipeline.Actor{UserID: userID, Role: role}, call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.FromGin(c).Info("call reprocess queued", "call_id", call.ID, "task_id", task.ID, "actor", userID)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "call_id": call.ID, "task_id": task.ID})
}
