package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
)

func sampleEvent() Event {
	now := time.Unix(1700000000, 0).UTC()
	urgency := 4
	return Event{
		Call: calls.Call{
			ID:              "c-1",
			ProviderCallID:  "CALL-100",
			Direction:       calls.DirectionInbound,
			CallerName:      "Acme Corp",
			CallerNumber:    "+15550100",
			StartTime:       now,
			DurationSeconds: 125,
			State:           calls.StateCompleted,
		},
		Summary: calls.Summary{
			CallID:       "c-1",
			Summary:      "Customer asked for a quote.",
			Sentiment:    calls.SentimentPositive,
			UrgencyScore: &urgency,
			KeyTopics:    []string{"pricing"},
		},
		ActionItems: []actions.ActionItem{
			{ID: "i-1", CallID: "c-1", Description: "Send quote", Priority: 4, Status: actions.StatusPending},
		},
		CompletedAt: now,
	}
}

type stubSink struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubSink) Name() string { return s.name }
func (s *stubSink) Send(ctx context.Context, e Event) error {
	s.calls.Add(1)
	return s.err
}

func TestFanout_FailuresAreIndependent(t *testing.T) {
	bad := &stubSink{name: "bad", err: errors.New("down")}
	good := &stubSink{name: "good"}
	f := NewFanout(bad, nil, good)

	err := f.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.EqualValues(t, 1, bad.calls.Load())
	assert.EqualValues(t, 1, good.calls.Load(), "healthy sink still receives the event")
	assert.Equal(t, []string{"bad", "good"}, f.Sinks())
}

func TestFanout_NoSinksIsNoop(t *testing.T) {
	require.NoError(t, NewFanout().Publish(context.Background(), sampleEvent()))
}

func TestSlackSink_PostsBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSink(srv.URL, srv.Client())
	require.NoError(t, s.Send(context.Background(), sampleEvent()))

	blocks, ok := got["blocks"].([]any)
	require.True(t, ok)
	require.Len(t, blocks, 5)
	raw, _ := json.Marshal(blocks)
	assert.Contains(t, string(raw), "Call Summary - Acme Corp")
	assert.Contains(t, string(raw), "Send quote (Priority: 4/5)")
	assert.Contains(t, string(raw), "2m 5s")
}

func TestSlackSink_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewSlackSink(srv.URL, srv.Client()).Send(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSlackMessage_TruncatesItemsAndHandlesNoRecording(t *testing.T) {
	e := sampleEvent()
	for i := 0; i < 6; i++ {
		e.ActionItems = append(e.ActionItems, actions.ActionItem{Description: "extra", Priority: 3})
	}
	raw, _ := json.Marshal(SlackMessage(e))
	assert.Contains(t, string(raw), "Action Items (7)")
	assert.Contains(t, string(raw), "and 2 more")

	e = sampleEvent()
	e.Call.NoRecording = true
	raw, _ = json.Marshal(SlackMessage(e))
	assert.Contains(t, string(raw), "No recording")
	assert.NotContains(t, string(raw), "Sentiment")
}

func TestEmailSink_BuildsMessage(t *testing.T) {
	s, err := NewEmailSink(EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"ops@example.com"}})
	require.NoError(t, err)

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Nil(t, a, "no auth without a user")
		return nil
	}
	require.NoError(t, s.Send(context.Background(), sampleEvent()))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: Call Summary: Acme Corp - Positive\r\n")
	assert.Contains(t, msg, "1. Send quote (Priority: 4/5)")
	assert.True(t, strings.Contains(msg, "\r\n\r\nCALL SUMMARY"))
}

func TestEmailSink_RequiresRecipients(t *testing.T) {
	_, err := NewEmailSink(EmailConfig{Host: "smtp.example.com", From: "bot@example.com"})
	require.Error(t, err)
}

func TestEmailSink_HonorsContext(t *testing.T) {
	s, err := NewEmailSink(EmailConfig{Host: "h", From: "f@x", To: []string{"t@x"}})
	require.NoError(t, err)
	block := make(chan struct{})
	defer close(block)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Send(ctx, sampleEvent()), context.DeadlineExceeded)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_WritesKeyedPayload(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{writer: w, topic: "call.processed"}

	require.NoError(t, s.Send(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "CALL-100", string(w.msgs[0].Key))

	var p Payload
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &p))
	assert.Equal(t, "c-1", p.CallID)
	assert.Equal(t, 4, p.UrgencyScore)
	require.Len(t, p.ActionItems, 1)
	assert.Equal(t, "Send quote", p.ActionItems[0].Description)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}
