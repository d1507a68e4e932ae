package notify

import (
	"context"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
)

// Event is published once per call that reaches the completed state.
// NoRecording events carry an empty Summary.
type Event struct {
	Call        calls.Call           `json:"call"`
	Summary     calls.Summary        `json:"summary"`
	ActionItems []actions.ActionItem `json:"action_items"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Publisher delivers completion events. Implementations must not mutate call state.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Sink is one notification channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Payload is the flat wire form of an Event for machine consumers (Kafka).
type Payload struct {
	CallID         string   `json:"call_id"`
	ProviderCallID string   `json:"provider_call_id"`
	Direction      string   `json:"direction"`
	Caller         string   `json:"caller"`
	StartTime      string   `json:"start_time"`
	Duration       int      `json:"duration_seconds"`
	NoRecording    bool     `json:"no_recording"`
	Summary        string   `json:"summary,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty"`
	UrgencyScore   int      `json:"urgency_score,omitempty"`
	KeyTopics      []string `json:"key_topics,omitempty"`
	ActionItems    []Item   `json:"action_items"`
	CompletedAt    string   `json:"completed_at"`
}

type Item struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Priority    int    `json:"priority"`
	DueDate     string `json:"due_date,omitempty"`
}

func NewPayload(e Event) Payload {
	p := Payload{
		CallID:         e.Call.ID,
		ProviderCallID: e.Call.ProviderCallID,
		Direction:      string(e.Call.Direction),
		Caller:         callerLabel(e.Call),
		StartTime:      e.Call.StartTime.UTC().Format(time.RFC3339),
		Duration:       e.Call.DurationSeconds,
		NoRecording:    e.Call.NoRecording,
		Summary:        e.Summary.Summary,
		Sentiment:      string(e.Summary.Sentiment),
		KeyTopics:      e.Summary.KeyTopics,
		ActionItems:    make([]Item, 0, len(e.ActionItems)),
		CompletedAt:    e.CompletedAt.UTC().Format(time.RFC3339),
	}
	if e.Summary.UrgencyScore != nil {
		p.UrgencyScore = *e.Summary.UrgencyScore
	}
	for _, it := range e.ActionItems {
		item := Item{ID: it.ID, Description: it.Description, AssignedTo: it.AssignedTo, Priority: it.Priority}
		if it.DueDate != nil {
			item.DueDate = it.DueDate.UTC().Format(time.RFC3339)
		}
		p.ActionItems = append(p.ActionItems, item)
	}
	return p
}

func callerLabel(c calls.Call) string {
	if c.CallerName != "" {
		return c.CallerName
	}
	if c.CallerNumber != "" {
		return c.CallerNumber
	}
	return "unknown caller"
}
