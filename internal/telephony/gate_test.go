package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights/internal/calls"
	"call-insights/internal/store"
)

const testSecret = "s3cret"

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func newTestGate(t *testing.T) (*Gate, *store.Memory, *countingWaker) {
	t.Helper()
	mem := store.NewMemory()
	w := &countingWaker{}
	g := NewGate(testSecret, mem, w)
	g.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	n := 0
	g.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return g, mem, w
}

func payload(eventType, callID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_type": %q,
		"timestamp": "2024-01-15T10:35:00Z",
		"data": {
			"call_id": %q,
			"direction": "inbound",
			"caller": {"number": "+15551234567", "name": "Jane"},
			"called": {"number": "+15557654321", "name": "Support"},
			"start_time": "2024-01-15T10:30:00Z",
			"end_time": "2024-01-15T10:35:00Z",
			"recording_url": "https://rec.example.com/CALL-100.mp3",
			"status": "completed"
		}
	}`, eventType, callID))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign(testSecret, body)

	require.NoError(t, VerifySignature(testSecret, body, sig))
	require.NoError(t, VerifySignature(testSecret, body, strings.ToUpper(sig)))
	assert.ErrorIs(t, VerifySignature(testSecret, body, ""), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(testSecret, body, "zz"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(testSecret, []byte(`{"a":2}`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", body, Sign("", body)), ErrInvalidSignature)
}

func TestGate_AcceptsOnceThenDuplicate(t *testing.T) {
	g, mem, w := newTestGate(t)
	ctx := context.Background()
	raw := payload(EventCallEnded, "CALL-100")

	res, err := g.Receive(ctx, raw, Sign(testSecret, raw))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "CALL-100", res.CallID)
	assert.Equal(t, 1, w.n)

	c, err := mem.GetCallByProviderID(ctx, "CALL-100")
	require.NoError(t, err)
	assert.Equal(t, calls.StateReceived, c.State)
	assert.Equal(t, calls.DirectionInbound, c.Direction)
	assert.Equal(t, 300, c.DurationSeconds, "derived from end - start")
	assert.Equal(t, "Jane", c.CallerName)

	res, err = g.Receive(ctx, raw, Sign(testSecret, raw))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, w.n, "duplicate does not wake")
	assert.Len(t, mem.Tasks(), 1, "exactly one task")
}

func TestGate_RejectsBadSignatureBeforeParsing(t *testing.T) {
	g, mem, _ := newTestGate(t)
	_, err := g.Receive(context.Background(), []byte("not json"), "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, mem.Tasks())
}

func TestGate_IgnoresOtherEvents(t *testing.T) {
	g, mem, w := newTestGate(t)
	raw := payload("call.started", "CALL-1")
	res, err := g.Receive(context.Background(), raw, Sign(testSecret, raw))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, mem.Tasks())
	assert.Zero(t, w.n)
}

func TestGate_MalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing call_id": `{"event_type":"call.ended","data":{"direction":"inbound","start_time":"2024-01-15T10:30:00Z"}}`,
		"bad direction":   `{"event_type":"call.ended","data":{"call_id":"C","direction":"sideways","start_time":"2024-01-15T10:30:00Z"}}`,
		"missing start":   `{"event_type":"call.ended","data":{"call_id":"C","direction":"inbound"}}`,
		"bad start":       `{"event_type":"call.ended","data":{"call_id":"C","direction":"inbound","start_time":"yesterday"}}`,
		"end before":      `{"event_type":"call.ended","data":{"call_id":"C","direction":"inbound","start_time":"2024-01-15T10:30:00Z","end_time":"2024-01-15T10:00:00Z"}}`,
		"negative dur":    `{"event_type":"call.ended","data":{"call_id":"C","direction":"inbound","start_time":"2024-01-15T10:30:00Z","duration":-1}}`,
	}
	for name, body := range cases {
		g, mem, _ := newTestGate(t)
		raw := []byte(body)
		_, err := g.Receive(context.Background(), raw, Sign(testSecret, raw))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
		if len(mem.Tasks()) != 0 {
			t.Fatalf("%s: expected nothing persisted", name)
		}
	}
}

func TestGate_ProvidedDurationWins(t *testing.T) {
	g, mem, _ := newTestGate(t)
	raw := []byte(`{"event_type":"call.ended","data":{"call_id":"C-9","direction":"OUTBOUND","start_time":"2024-01-15T10:30:00+02:00","duration":42}}`)
	_, err := g.Receive(context.Background(), raw, Sign(testSecret, raw))
	require.NoError(t, err)
	c, err := mem.GetCallByProviderID(context.Background(), "C-9")
	require.NoError(t, err)
	assert.Equal(t, 42, c.DurationSeconds)
	assert.Equal(t, calls.DirectionOutbound, c.Direction)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), c.StartTime)
	assert.Nil(t, c.EndTime)
}

type failingStore struct{}

func (failingStore) CreateCallIfAbsent(ctx context.Context, c calls.Call, task calls.Task) (calls.Call, bool, error) {
	return calls.Call{}, false, errors.New("db down")
}

func TestWebhookHandler_StatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	g, _, _ := newTestGate(t)
	r := gin.New()
	r.POST("/webhooks/goto/call-ended", WebhookHandler{Gate: g}.HandleCallEnded)

	broken := NewGate(testSecret, failingStore{}, nil)
	r.POST("/broken", WebhookHandler{Gate: broken}.HandleCallEnded)

	do := func(path string, body []byte, sig string) (int, WebhookResponse) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var out WebhookResponse
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	raw := payload(EventCallEnded, "CALL-100")
	code, out := do("/webhooks/goto/call-ended", raw, Sign(testSecret, raw))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", out.Status)
	assert.Equal(t, "CALL-100", out.CallID)

	code, out = do("/webhooks/goto/call-ended", raw, Sign(testSecret, raw))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", out.Status)

	code, _ = do("/webhooks/goto/call-ended", raw, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	bad := []byte(`{"event_type":"call.ended","data":{}}`)
	code, _ = do("/webhooks/goto/call-ended", bad, Sign(testSecret, bad))
	assert.Equal(t, http.StatusBadRequest, code)

	other := payload("call.started", "X")
	code, out = do("/webhooks/goto/call-ended", other, Sign(testSecret, other))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", out.Status)

	code, _ = do("/broken", raw, Sign(testSecret, raw))
	assert.Equal(t, http.StatusInternalServerError, code)
}
