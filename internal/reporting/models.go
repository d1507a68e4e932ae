package reporting

import (
	"time"

	"call-insights/internal/calls"
)

type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

func (p PeriodType) Valid() bool {
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// TimeRange is a half-open interval [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// KPI is one aggregated row keyed by (PeriodType, PeriodStart).
//
// Invariants:
// - At most one row per (PeriodType, PeriodStart); recompute overwrites.
// - AvgUrgencyScore averages scored calls only; nil when none are scored.
// - Action-item counts cover live items of calls started in the window.
// - The row is a pure function of the dataset; bookkeeping timestamps live
//   in storage only, so recomputing an unchanged period yields equal values.
type KPI struct {
	PeriodType  PeriodType `json:"period_type" db:"period_type"`
	PeriodStart time.Time  `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time  `json:"period_end" db:"period_end"`

	TotalCalls         int `json:"total_calls" db:"total_calls"`
	InboundCalls       int `json:"inbound_calls" db:"inbound_calls"`
	OutboundCalls      int `json:"outbound_calls" db:"outbound_calls"`
	CallsWithRecording int `json:"calls_with_recordings" db:"calls_with_recordings"`
	CallsTranscribed   int `json:"calls_transcribed" db:"calls_transcribed"`

	TotalDurationSeconds int     `json:"total_duration_seconds" db:"total_duration_seconds"`
	AvgDurationSeconds   float64 `json:"avg_duration_seconds" db:"avg_duration_seconds"`

	PositiveSentiment int      `json:"positive_sentiment_count" db:"positive_sentiment_count"`
	NeutralSentiment  int      `json:"neutral_sentiment_count" db:"neutral_sentiment_count"`
	NegativeSentiment int      `json:"negative_sentiment_count" db:"negative_sentiment_count"`
	AvgUrgencyScore   *float64 `json:"avg_urgency_score,omitempty" db:"avg_urgency_score"`

	TotalActionItems     int `json:"total_action_items" db:"total_action_items"`
	CompletedActionItems int `json:"completed_action_items" db:"completed_action_items"`
}

// CallFact is the per-call projection the engine aggregates over.
type CallFact struct {
	CallID          string
	StartTime       time.Time
	Direction       calls.Direction
	DurationSeconds int
	HasRecording    bool
	Transcribed     bool
	Sentiment       calls.Sentiment
	UrgencyScore    *int

	ActionItems          int
	CompletedActionItems int
}
