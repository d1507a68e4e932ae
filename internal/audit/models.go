package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Operator events carry the acting user and role; system events use SystemActor.
// - Audit is best-effort; critical flows never block on audit failures.
//
// Storage (Postgres): table audit_events, INSERT only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"event_type"`

	// ActorUserID is the authenticated operator causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Target identifiers (optional, depending on the event type).
	CallID   string `json:"call_id,omitempty" db:"call_id"`
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallReprocessed    EventType = "call_reprocessed"
	EventTypeActionItemChanged  EventType = "action_item_changed"
	EventTypeKPIRecomputed      EventType = "kpi_recomputed"
	EventTypePipelineFailed     EventType = "pipeline_failed"
	EventTypeNotificationFailed EventType = "notification_failed"
)

// SystemActor is recorded for events raised by background processing.
const SystemActor = "system"

// System reports whether the event type is raised by the pipeline rather than an operator.
func (t EventType) System() bool {
	return t == EventTypePipelineFailed || t == EventTypeNotificationFailed
}

func (t EventType) Valid() bool {
	switch t {
	case EventTypeCallReprocessed, EventTypeActionItemChanged, EventTypeKPIRecomputed,
		EventTypePipelineFailed, EventTypeNotificationFailed:
		return true
	default:
		return false
	}
}
