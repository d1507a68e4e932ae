package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-insights/internal/calls"
)

// SignatureHeader carries the lowercase hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-GoTo-Signature"

// EventCallEnded is the only event type that creates work.
const EventCallEnded = "call.ended"

var (
	ErrInvalidSignature = errors.New("telephony: invalid signature")
	ErrMalformedPayload = errors.New("telephony: malformed payload")
)

// VerifySignature checks header against HMAC-SHA256(secret, body).
// An empty secret or header never verifies.
func VerifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value a provider would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// GoToWebhook is the call event envelope posted by GoTo Connect.
type GoToWebhook struct {
	EventType string       `json:"event_type"`
	Timestamp string       `json:"timestamp"`
	Data      GoToCallData `json:"data"`
}

type GoToParticipant struct {
	Number string `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
}

type GoToCallData struct {
	CallID       string           `json:"call_id"`
	Direction    string           `json:"direction"`
	Caller       *GoToParticipant `json:"caller,omitempty"`
	Called       *GoToParticipant `json:"called,omitempty"`
	StartTime    string           `json:"start_time"`
	EndTime      string           `json:"end_time,omitempty"`
	Duration     *int             `json:"duration,omitempty"`
	RecordingURL string           `json:"recording_url,omitempty"`
	Status       string           `json:"status,omitempty"`
}

// ParseWebhook decodes raw. It only checks JSON shape; ToCall validates fields.
func ParseWebhook(raw []byte) (GoToWebhook, error) {
	var w GoToWebhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return GoToWebhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return w, nil
}

// ToCall validates a call.ended payload and builds the call row in state
// Received. Duration defaults to end minus start when the provider omits it.
func (w GoToWebhook) ToCall(id string, receivedAt time.Time) (calls.Call, error) {
	d := w.Data
	callID := strings.TrimSpace(d.CallID)
	if callID == "" {
		return calls.Call{}, fmt.Errorf("%w: call_id is required", ErrMalformedPayload)
	}
	dir := calls.Direction(strings.ToLower(strings.TrimSpace(d.Direction)))
	if d.Direction == "" {
		return calls.Call{}, fmt.Errorf("%w: direction is required", ErrMalformedPayload)
	}
	if !dir.Valid() {
		return calls.Call{}, fmt.Errorf("%w: direction %q", ErrMalformedPayload, d.Direction)
	}
	if strings.TrimSpace(d.StartTime) == "" {
		return calls.Call{}, fmt.Errorf("%w: start_time is required", ErrMalformedPayload)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(d.StartTime))
	if err != nil {
		return calls.Call{}, fmt.Errorf("%w: start_time: %v", ErrMalformedPayload, err)
	}
	start = start.UTC()

	var end *time.Time
	if s := strings.TrimSpace(d.EndTime); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return calls.Call{}, fmt.Errorf("%w: end_time: %v", ErrMalformedPayload, err)
		}
		t = t.UTC()
		if t.Before(start) {
			return calls.Call{}, fmt.Errorf("%w: end_time before start_time", ErrMalformedPayload)
		}
		end = &t
	}

	duration := 0
	switch {
	case d.Duration != nil:
		if *d.Duration < 0 {
			return calls.Call{}, fmt.Errorf("%w: negative duration", ErrMalformedPayload)
		}
		duration = *d.Duration
	case end != nil:
		duration = int(end.Sub(start) / time.Second)
	}

	c := calls.Call{
		ID:                id,
		ProviderCallID:    callID,
		Direction:         dir,
		StartTime:         start,
		EndTime:           end,
		DurationSeconds:   duration,
		RecordingURL:      strings.TrimSpace(d.RecordingURL),
		State:             calls.StateReceived,
		WebhookReceivedAt: receivedAt,
		CreatedAt:         receivedAt,
		UpdatedAt:         receivedAt,
	}
	if d.Caller != nil {
		c.CallerNumber = strings.TrimSpace(d.Caller.Number)
		c.CallerName = strings.TrimSpace(d.Caller.Name)
	}
	if d.Called != nil {
		c.CalledNumber = strings.TrimSpace(d.Called.Number)
		c.CalledName = strings.TrimSpace(d.Called.Name)
	}
	return c, nil
}
