package actions

import (
	"errors"
	"time"
)

// ActionItem is a follow-up task extracted from a call's analysis.
//
// Invariants:
// - Description is non-empty.
// - Priority is within [1,5].
// - CompletedAt is set iff Status == completed.
// - completed and cancelled are terminal; superseded items are read-only.
// - Overdue is never stored; see IsOverdue.
type ActionItem struct {
	ID          string     `json:"id" db:"id"`
	CallID      string     `json:"call_id" db:"call_id"`
	Description string     `json:"description" db:"description"`
	AssignedTo  string     `json:"assigned_to,omitempty" db:"assigned_to"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	Status      Status     `json:"status" db:"status"`
	Priority    int        `json:"priority" db:"priority"`

	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	// SupersededAt marks items replaced by a later analysis of the same call.
	SupersededAt *time.Time `json:"superseded_at,omitempty" db:"superseded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority bounds, inclusive.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
	UrgentPriority  = 4
)

var (
	ErrNotFound          = errors.New("actions: not found")
	ErrInvalidTransition = errors.New("actions: invalid transition")
	ErrInvalidArgument   = errors.New("actions: invalid argument")
)

// IsOverdue reports whether the item is past due while still open.
// It must be evaluated at read time against the caller's clock.
func IsOverdue(dueDate *time.Time, status Status, now time.Time) bool {
	if dueDate == nil {
		return false
	}
	if status != StatusPending && status != StatusInProgress {
		return false
	}
	return dueDate.Before(now)
}

// ApplyTransition returns the item after moving it to the target status.
// changed is false for idempotent no-ops (e.g. completing a completed item).
func ApplyTransition(item ActionItem, to Status, now time.Time) (out ActionItem, changed bool, err error) {
	if !to.Valid() {
		return item, false, ErrInvalidArgument
	}
	if item.SupersededAt != nil {
		return item, false, ErrInvalidTransition
	}

	switch item.Status {
	case StatusCompleted:
		if to == StatusCompleted {
			return item, false, nil
		}
		return item, false, ErrInvalidTransition
	case StatusCancelled:
		return item, false, ErrInvalidTransition
	}

	if item.Status == to {
		return item, false, nil
	}

	item.Status = to
	item.UpdatedAt = now
	if to == StatusCompleted {
		t := now
		item.CompletedAt = &t
	}
	return item, true, nil
}

// Patch carries orthogonal field edits (reassignment, snooze, reprioritize).
// Nil fields are left unchanged.
type Patch struct {
	AssignedTo   *string    `json:"assigned_to,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
	Priority     *int       `json:"priority,omitempty"`
}

func (p Patch) Empty() bool {
	return p.AssignedTo == nil && p.DueDate == nil && !p.ClearDueDate && p.Priority == nil
}

// ApplyPatch applies p to a non-terminal item.
func ApplyPatch(item ActionItem, p Patch, now time.Time) (ActionItem, error) {
	if p.Empty() {
		return item, ErrInvalidArgument
	}
	if p.DueDate != nil && p.ClearDueDate {
		return item, ErrInvalidArgument
	}
	if p.Priority != nil && (*p.Priority < MinPriority || *p.Priority > MaxPriority) {
		return item, ErrInvalidArgument
	}
	if item.SupersededAt != nil || item.Status.Terminal() {
		return item, ErrInvalidTransition
	}

	if p.AssignedTo != nil {
		item.AssignedTo = *p.AssignedTo
	}
	if p.ClearDueDate {
		item.DueDate = nil
	}
	if p.DueDate != nil {
		d := p.DueDate.UTC()
		item.DueDate = &d
	}
	if p.Priority != nil {
		item.Priority = *p.Priority
	}
	item.UpdatedAt = now
	return item, nil
}

// Order selects listing order.
type Order string

const (
	OrderNewest   Order = "newest"
	OrderPriority Order = "priority" // priority desc, created asc
	OrderDueDate  Order = "due_date" // due date asc
)

// Filter narrows action-item listings. Superseded items are excluded unless
// IncludeSuperseded is set.
type Filter struct {
	CallID            string
	Statuses          []Status
	AssignedTo        string
	MinPriority       int
	DueBefore         *time.Time
	IncludeSuperseded bool
	Order             Order
	Limit             int
	Offset            int
}

// Matches reports whether item satisfies f. Used by in-memory storage.
func (f Filter) Matches(item ActionItem) bool {
	if !f.IncludeSuperseded && item.SupersededAt != nil {
		return false
	}
	if f.CallID != "" && item.CallID != f.CallID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if item.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.AssignedTo != "" && item.AssignedTo != f.AssignedTo {
		return false
	}
	if f.MinPriority > 0 && item.Priority < f.MinPriority {
		return false
	}
	if f.DueBefore != nil && (item.DueDate == nil || !item.DueDate.Before(*f.DueBefore)) {
		return false
	}
	return true
}

// View is an ActionItem decorated with read-time derived fields.
type View struct {
	ActionItem
	Overdue bool `json:"is_overdue"`
}

func NewView(item ActionItem, now time.Time) View {
	return View{ActionItem: item, Overdue: IsOverdue(item.DueDate, item.Status, now)}
}

// Stats summarizes live (non-superseded) action items.
type Stats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"in_progress"`
	Completed      int     `json:"completed"`
	Cancelled      int     `json:"cancelled"`
	Overdue        int     `json:"overdue"`
	CompletionRate float64 `json:"completion_rate"`
	AvgPriority    float64 `json:"avg_priority"`
}
