package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights/internal/actions"
	"call-insights/internal/audit"
	"call-insights/internal/auth"
	"call-insights/internal/calls"
	"call-insights/internal/config"
	"call-insights/internal/httpapi"
	"call-insights/internal/pipeline"
	"call-insights/internal/reporting"
	"call-insights/internal/store"
)

var now = time.Unix(1700000000, 0).UTC()

type fixture struct {
	router *gin.Engine
	mem    *store.Memory
	audit  *audit.MemoryRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mem := store.NewMemory()
	_, _, err := mem.CreateCallIfAbsent(ctx,
		calls.Call{ID: "call-1", ProviderCallID: "CALL-100", Direction: calls.DirectionInbound, StartTime: now.Add(-time.Hour), DurationSeconds: 300, State: calls.StateReceived},
		calls.Task{ID: "task-1", CallID: "call-1", Reason: calls.TaskReasonWebhook, Status: calls.TaskStatusQueued, CreatedAt: now},
	)
	require.NoError(t, err)
	require.NoError(t, mem.WriteSummaryStage(ctx, "call-1", calls.SummaryTranscriptionCompleted, calls.SummaryFields{Transcript: "hello there", At: now}))
	require.NoError(t, mem.CompleteAnalysis(ctx, "call-1",
		calls.Analysis{Summary: "customer wants a refund", Sentiment: calls.SentimentNegative, UrgencyScore: 4, CompletedAt: now},
		[]actions.ActionItem{
			{ID: "a", CallID: "call-1", Description: "issue refund", Status: actions.StatusPending, Priority: 5, CreatedAt: now},
			{ID: "b", CallID: "call-1", Description: "send survey", Status: actions.StatusPending, Priority: 2, CreatedAt: now},
		},
	))

	_, _, err = mem.CreateCallIfAbsent(ctx,
		calls.Call{ID: "call-2", ProviderCallID: "CALL-200", Direction: calls.DirectionOutbound, StartTime: now.Add(-48 * time.Hour), State: calls.StateReceived},
		calls.Task{ID: "task-2", CallID: "call-2", Reason: calls.TaskReasonWebhook, Status: calls.TaskStatusQueued, CreatedAt: now},
	)
	require.NoError(t, err)

	repo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(repo)
	clock := func() time.Time { return now }

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		OperatorKey:     "op-key",
	})
	require.NoError(t, err)

	h := httpapi.Handlers{
		Auth:     m,
		Calls:    mem,
		Pipeline: pipeline.NewPool(mem, nil, auditSvc, pipeline.PoolConfig{}, nil),
		Actions:  actions.NewService(mem, auditSvc).WithClock(clock),
		KPIs:     reporting.NewEngine(mem, reporting.NewCalendar(time.UTC, time.Monday)),
		Audit:    auditSvc,
		Now:      clock,
	}

	r := gin.New()
	r.POST("/v1/auth/token", h.IssueToken)
	v1 := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "op-1", "operator"))
		c.Next()
	})
	v1.GET("/calls", h.ListCalls)
	v1.GET("/calls/:id", h.GetCall)
	v1.GET("/calls/:id/transcript", h.GetTranscript)
	v1.GET("/calls/:id/action-items", h.CallActionItems)
	v1.POST("/calls/:id/reprocess", h.Reprocess)
	v1.GET("/action-items", h.ListActionItems)
	v1.GET("/action-items/stats", h.ActionItemStats)
	v1.GET("/action-items/urgent", h.UrgentActionItems)
	v1.GET("/action-items/:id", h.GetActionItem)
	v1.POST("/action-items/:id/transition", h.TransitionActionItem)
	v1.PATCH("/action-items/:id", h.PatchActionItem)
	v1.GET("/kpis", h.ListKPIs)
	v1.POST("/kpis/recompute", h.RecomputeKPIs)

	return fixture{router: r, mem: mem, audit: repo}
}

func (f fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestGetCall_ByProviderIDIncludesSummaryAndItems(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/v1/calls/CALL-100", "")
	require.Equal(t, http.StatusOK, w.Code)

	call := body["call"].(map[string]any)
	assert.Equal(t, "call-1", call["id"])
	assert.Equal(t, "completed", call["state"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "customer wants a refund", summary["summary"])
	assert.Len(t, body["action_items"], 2)

	w, _ = f.do(t, http.MethodGet, "/v1/calls/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTranscript(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/v1/calls/call-1/transcript", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello there", body["transcript"])
	assert.Equal(t, "CALL-100", body["provider_call_id"])

	w, _ = f.do(t, http.MethodGet, "/v1/calls/call-2/transcript", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCalls_FiltersAndValidates(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/v1/calls?direction=outbound", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["calls"], 1)
	assert.Equal(t, "call-2", body["calls"].([]any)[0].(map[string]any)["id"])

	w, _ = f.do(t, http.MethodGet, "/v1/calls?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/v1/calls?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/v1/calls?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReprocess_QueuesOnceAndAudits(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/v1/calls/CALL-100/reprocess", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "call-1", body["call_id"])
	assert.NotEmpty(t, body["task_id"])

	// Back in received state: a second request conflicts until the run finishes.
	w, _ = f.do(t, http.MethodPost, "/v1/calls/call-1/reprocess", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	events := f.audit.ByType(audit.EventTypeCallReprocessed)
	require.Len(t, events, 1)
	assert.Equal(t, "op-1", events[0].ActorUserID)
	assert.Len(t, f.mem.Tasks(), 3)
}

func TestTransitionActionItem(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/v1/action-items/a/transition", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["completed_at"])

	w, _ = f.do(t, http.MethodPost, "/v1/action-items/a/transition", `{"status":"pending"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/action-items/a/transition", `{"status":"done"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/action-items/missing/transition", `{"status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, f.audit.ByType(audit.EventTypeActionItemChanged), 1)
}

func TestPatchActionItem(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPatch, "/v1/action-items/b", `{"assigned_to":" dana ","due_date":"2023-11-10","priority":4}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dana", body["assigned_to"])
	assert.EqualValues(t, 4, body["priority"])
	assert.Equal(t, true, body["is_overdue"], "due date is before now")

	w, body = f.do(t, http.MethodPatch, "/v1/action-items/b", `{"due_date":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["due_date"])
	assert.Equal(t, false, body["is_overdue"])

	for name, payload := range map[string]string{
		"out of range priority": `{"priority":9}`,
		"unknown field":         `{"status":"completed"}`,
		"empty patch":           `{}`,
		"bad date":              `{"due_date":"next week"}`,
		"not json":              `{`,
	} {
		w, _ = f.do(t, http.MethodPatch, "/v1/action-items/b", payload)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestListActionItems_Filters(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/v1/action-items?status=pending&min_priority=4", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := body["action_items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].(map[string]any)["id"])

	w, body = f.do(t, http.MethodGet, "/v1/action-items?call_id=CALL-100&order=priority", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["action_items"], 2)

	w, _ = f.do(t, http.MethodGet, "/v1/action-items?status=done", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/v1/action-items?order=random", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/v1/action-items/urgent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["action_items"], 1)

	w, body = f.do(t, http.MethodGet, "/v1/action-items/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 2, body["pending"])
}

func TestKPIs_RecomputeThenList(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/v1/kpis/recompute", `{"period":"daily","at":"2023-11-14"}`)
	require.Equal(t, http.StatusOK, w.Code)
	kpis := body["kpis"].([]any)
	require.Len(t, kpis, 1)
	assert.EqualValues(t, 1, kpis[0].(map[string]any)["total_calls"])

	w, body = f.do(t, http.MethodGet, "/v1/kpis?period=daily&from=2023-11-14&to=2023-11-15", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["kpis"], 1)

	w, _ = f.do(t, http.MethodGet, "/v1/kpis?period=hourly", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, "/v1/kpis/recompute", `{"period":"yearly"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	events := f.audit.ByType(audit.EventTypeKPIRecomputed)
	require.Len(t, events, 1)
}

func TestKPIs_RecomputeAllPeriods(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/v1/kpis/recompute", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["kpis"], 3)
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/v1/auth/token", `{"operator_key":"wrong","user_id":"u1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/auth/token", `{"operator_key":"op-key","user_id":"u1","role":"root"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.do(t, http.MethodPost, "/v1/auth/token", `{"operator_key":"op-key","user_id":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
}
