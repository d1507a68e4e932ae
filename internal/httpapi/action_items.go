package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"call-insights/internal/actions"

	"github.com/gin-gonic/gin"
)

func (h Handlers) actor(c *gin.Context) actions.Actor {
	userID, role := actorFrom(c)
	return actions.Actor{UserID: userID, Role: role}
}

func (h Handlers) requireActions(c *gin.Context) bool {
	if h.Actions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "action items not configured"})
		return false
	}
	return true
}

// ListActionItems supports status (comma separated), assigned_to, call_id,
// min_priority, order, limit and offset.
func (h Handlers) ListActionItems(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	f := actions.Filter{
		AssignedTo: strings.TrimSpace(c.Query("assigned_to")),
		Order:      actions.Order(c.DefaultQuery("order", string(actions.OrderNewest))),
	}
	switch f.Order {
	case actions.OrderNewest, actions.OrderPriority, actions.OrderDueDate:
	default:
		badRequest(c, "invalid order")
		return
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, actions.Status(strings.TrimSpace(s)))
		}
	}
	if id := strings.TrimSpace(c.Query("call_id")); id != "" {
		if h.Calls == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
			return
		}
		call, err := h.resolveCall(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		f.CallID = call.ID
	}
	var ok bool
	if f.MinPriority, ok = queryInt(c, "min_priority"); !ok {
		badRequest(c, "invalid min_priority")
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

	out, err := h.Actions.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_items": out, "limit": f.Limit, "offset": f.Offset})
}

func (h Handlers) ActionItemStats(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	st, err := h.Actions.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) UrgentActionItems(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	minPriority, ok := queryInt(c, "min_priority")
	if !ok {
		badRequest(c, "invalid min_priority")
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "invalid limit")
		return
	}
	out, err := h.Actions.Urgent(c.Request.Context(), minPriority, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_items": out})
}

func (h Handlers) OverdueActionItems(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	out, err := h.Actions.Overdue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_items": out})
}

func (h Handlers) GetActionItem(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	v, err := h.Actions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) CallActionItems(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	call, err := h.resolveCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := h.Actions.ByCall(c.Request.Context(), call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "action_items": out})
}

type transitionRequest struct {
	Status actions.Status `json:"status"`
}

func (h Handlers) TransitionActionItem(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !req.Status.Valid() {
		badRequest(c, "invalid status")
		return
	}
	v, err := h.Actions.Transition(c.Request.Context(), h.actor(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// PatchActionItem reassigns, snoozes or reprioritizes an item. due_date may
// be RFC3339, YYYY-MM-DD, or null to clear it.
func (h Handlers) PatchActionItem(c *gin.Context) {
	if !h.requireActions(c) {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	p, err := decodePatch(raw)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	v, err := h.Actions.Update(c.Request.Context(), h.actor(c), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func decodePatch(raw []byte) (actions.Patch, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return actions.Patch{}, errors.New("invalid json")
	}

	var p actions.Patch
	for key, val := range body {
		switch key {
		case "assigned_to":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return actions.Patch{}, errors.New("assigned_to must be a string")
			}
			s = strings.TrimSpace(s)
			p.AssignedTo = &s
		case "priority":
			var n int
			if err := json.Unmarshal(val, &n); err != nil {
				return actions.Patch{}, errors.New("priority must be an integer")
			}
			p.Priority = &n
		case "due_date":
			if string(val) == "null" {
				p.ClearDueDate = true
				continue
			}
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return actions.Patch{}, errors.New("due_date must be a string or null")
			}
			if strings.TrimSpace(s) == "" {
				p.ClearDueDate = true
				continue
			}
			t, err := parseTime(s)
			if err != nil {
				return actions.Patch{}, errors.New("due_date must be RFC3339 or YYYY-MM-DD")
			}
			p.DueDate = &t
		default:
			return actions.Patch{}, errors.New("unknown field " + key)
		}
	}
	if p.Empty() {
		return actions.Patch{}, errors.New("nothing to update")
	}
	return p, nil
}
