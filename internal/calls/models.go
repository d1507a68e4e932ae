package calls

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("calls: not found")
	// ErrInvalidState is returned when an operation does not apply to the
	// call's current processing state (e.g. reprocessing an in-flight call).
	ErrInvalidState = errors.New("calls: invalid state")
)

// Call is one telephony session ingested from a provider webhook.
//
// Invariants:
// - ProviderCallID is unique and immutable.
// - EndTime, when present, is not before StartTime.
// - RecordingPath is set only after a successful download and is cleared
//   again once the local file is removed at the end of the run.
// - Only the processing pipeline mutates recording and processing fields.
type Call struct {
	ID             string    `json:"id" db:"id"`
	ProviderCallID string    `json:"provider_call_id" db:"provider_call_id"`
	Direction      Direction `json:"direction" db:"direction"`

	CallerNumber string `json:"caller_number,omitempty" db:"caller_number"`
	CallerName   string `json:"caller_name,omitempty" db:"caller_name"`
	CalledNumber string `json:"called_number,omitempty" db:"called_number"`
	CalledName   string `json:"called_name,omitempty" db:"called_name"`

	StartTime       time.Time  `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	RecordingURL        string `json:"recording_url,omitempty" db:"recording_url"`
	RecordingDownloaded bool   `json:"recording_downloaded" db:"recording_downloaded"`
	RecordingPath       string `json:"recording_path,omitempty" db:"recording_path"`

	State         State  `json:"state" db:"state"`
	FailedStage   Stage  `json:"failed_stage,omitempty" db:"failed_stage"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`
	NoRecording   bool   `json:"no_recording" db:"no_recording"`

	WebhookReceivedAt time.Time `json:"webhook_received_at" db:"webhook_received_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// State is the processing state of a call.
type State string

const (
	StateReceived     State = "received"
	StateDownloading  State = "downloading"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further automatic work happens in this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage names a pipeline step that can fail.
type Stage string

const (
	StageDownloading  Stage = "downloading"
	StageTranscribing Stage = "transcribing"
	StageAnalyzing    Stage = "analyzing"
)

// State returns the call state that represents work in this stage.
func (s Stage) State() State {
	switch s {
	case StageDownloading:
		return StateDownloading
	case StageTranscribing:
		return StateTranscribing
	case StageAnalyzing:
		return StateAnalyzing
	default:
		return StateReceived
	}
}

// Summary is the transcription and analysis output for a call (1:1).
type Summary struct {
	CallID string `json:"call_id" db:"call_id"`

	Transcript           string    `json:"transcript,omitempty" db:"transcript"`
	Summary              string    `json:"summary,omitempty" db:"summary"`
	Sentiment            Sentiment `json:"sentiment,omitempty" db:"sentiment"`
	UrgencyScore         *int      `json:"urgency_score,omitempty" db:"urgency_score"`
	KeyTopics            []string  `json:"key_topics" db:"key_topics"`
	NextSteps            []string  `json:"next_steps" db:"next_steps"`
	CustomerSatisfaction string    `json:"customer_satisfaction,omitempty" db:"customer_satisfaction"`

	TranscriptionStartedAt   *time.Time `json:"transcription_started_at,omitempty" db:"transcription_started_at"`
	TranscriptionCompletedAt *time.Time `json:"transcription_completed_at,omitempty" db:"transcription_completed_at"`
	AnalysisStartedAt        *time.Time `json:"analysis_started_at,omitempty" db:"analysis_started_at"`
	AnalysisCompletedAt      *time.Time `json:"analysis_completed_at,omitempty" db:"analysis_completed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	default:
		return false
	}
}

// Urgency bounds, inclusive.
const (
	MinUrgency = 1
	MaxUrgency = 5
)

// SummaryStage identifies which part of the summary a pipeline write touches.
// Every stage write is applied atomically with its timestamps.
type SummaryStage string

const (
	SummaryTranscriptionStarted   SummaryStage = "transcription_started"
	SummaryTranscriptionCompleted SummaryStage = "transcription_completed"
	SummaryAnalysisStarted        SummaryStage = "analysis_started"
)

// SummaryFields carries the values written for a SummaryStage.
type SummaryFields struct {
	Transcript string
	At         time.Time
}

// Analysis is the validated analysis output persisted on completion.
type Analysis struct {
	Summary              string
	Sentiment            Sentiment
	UrgencyScore         int
	KeyTopics            []string
	NextSteps            []string
	CustomerSatisfaction string
	CompletedAt          time.Time
}

// TaskReason records why processing was enqueued.
type TaskReason string

const (
	TaskReasonWebhook   TaskReason = "webhook"
	TaskReasonReprocess TaskReason = "reprocess"
)

// Task is a durable unit of queued pipeline work (outbox row).
type Task struct {
	ID        string     `json:"id" db:"id"`
	CallID    string     `json:"call_id" db:"call_id"`
	Reason    TaskReason `json:"reason" db:"reason"`
	Status    TaskStatus `json:"status" db:"status"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusClaimed TaskStatus = "claimed"
	TaskStatusDone    TaskStatus = "done"
)

// ListFilter narrows call listings for read-side consumers.
type ListFilter struct {
	From      time.Time
	To        time.Time
	Direction Direction
	State     State
	Limit     int
	Offset    int
}
