package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call-insights/pkg/logger"
)

// Repository is the Call Record Store contract used by the lifecycle manager.
//
// TransitionActionItem and UpdateActionItem must apply ApplyTransition /
// ApplyPatch under a row lock so concurrent edits of one item serialize.
type Repository interface {
	GetActionItem(ctx context.Context, id string) (ActionItem, error)
	ListActionItems(ctx context.Context, f Filter) ([]ActionItem, error)
	TransitionActionItem(ctx context.Context, id string, to Status, now time.Time) (ActionItem, error)
	UpdateActionItem(ctx context.Context, id string, p Patch, now time.Time) (ActionItem, error)
}

// Auditor records operator edits. Best-effort.
type Auditor interface {
	LogActionItemChange(ctx context.Context, actorUserID, actorRole, callID, itemID, message, metadata string) error
}

// Actor identifies who performs a mutation.
type Actor struct {
	UserID string
	Role   string
}

// Service is the action-item lifecycle manager.
type Service struct {
	repo  Repository
	audit Auditor
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, audit Auditor) *Service {
	return &Service{repo: repo, audit: audit, clock: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	if id == "" {
		return View{}, ErrInvalidArgument
	}
	item, err := s.repo.GetActionItem(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(item, s.clock().UTC()), nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]View, error) {
	if f.MinPriority < 0 || f.MinPriority > MaxPriority || f.Limit < 0 || f.Offset < 0 {
		return nil, ErrInvalidArgument
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, ErrInvalidArgument
		}
	}
	items, err := s.repo.ListActionItems(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.views(items), nil
}

func (s *Service) ByCall(ctx context.Context, callID string) ([]View, error) {
	if callID == "" {
		return nil, ErrInvalidArgument
	}
	return s.List(ctx, Filter{CallID: callID, Order: OrderPriority})
}

// Urgent lists pending items at or above minPriority, highest first.
func (s *Service) Urgent(ctx context.Context, minPriority, limit int) ([]View, error) {
	if minPriority == 0 {
		minPriority = UrgentPriority
	}
	if limit <= 0 {
		limit = 20
	}
	return s.List(ctx, Filter{
		Statuses:    []Status{StatusPending},
		MinPriority: minPriority,
		Order:       OrderPriority,
		Limit:       limit,
	})
}

// Overdue lists open items whose due date has passed, oldest due first.
func (s *Service) Overdue(ctx context.Context) ([]View, error) {
	now := s.clock().UTC()
	items, err := s.repo.ListActionItems(ctx, Filter{
		Statuses:  []Status{StatusPending, StatusInProgress},
		DueBefore: &now,
		Order:     OrderDueDate,
	})
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for _, it := range items {
		out = append(out, NewView(it, now))
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	items, err := s.repo.ListActionItems(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}
	now := s.clock().UTC()

	var out Stats
	prioritySum := 0
	for _, it := range items {
		out.Total++
		prioritySum += it.Priority
		switch it.Status {
		case StatusPending:
			out.Pending++
		case StatusInProgress:
			out.InProgress++
		case StatusCompleted:
			out.Completed++
		case StatusCancelled:
			out.Cancelled++
		}
		if IsOverdue(it.DueDate, it.Status, now) {
			out.Overdue++
		}
	}
	if out.Total > 0 {
		out.CompletionRate = float64(out.Completed) / float64(out.Total)
		out.AvgPriority = float64(prioritySum) / float64(out.Total)
	}
	return out, nil
}

// Transition moves an item to a new status. Completing a completed item is a
// no-op; leaving a terminal status fails with ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, actor Actor, id string, to Status) (View, error) {
	if id == "" || !to.Valid() {
		return View{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	before, err := s.repo.GetActionItem(ctx, id)
	if err != nil {
		return View{}, err
	}
	item, err := s.repo.TransitionActionItem(ctx, id, to, now)
	if err != nil {
		return View{}, err
	}
	if before.Status != item.Status {
		s.record(ctx, actor, item, fmt.Sprintf("status %s -> %s", before.Status, item.Status), map[string]any{
			"from": before.Status,
			"to":   item.Status,
		})
	}
	return NewView(item, now), nil
}

// Update reassigns, snoozes or reprioritizes a non-terminal item.
func (s *Service) Update(ctx context.Context, actor Actor, id string, p Patch) (View, error) {
	if id == "" {
		return View{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	item, err := s.repo.UpdateActionItem(ctx, id, p, now)
	if err != nil {
		return View{}, err
	}
	s.record(ctx, actor, item, "fields updated", p)
	return NewView(item, now), nil
}

func (s *Service) record(ctx context.Context, actor Actor, item ActionItem, msg string, meta any) {
	if s.audit == nil {
		return
	}
	raw, err := auditMetadata(meta)
	if err != nil {
		logger.From(ctx).Warn("audit metadata encode failed", "action_item_id", item.ID, "err", err)
	}
	if err := s.audit.LogActionItemChange(ctx, actor.UserID, actor.Role, item.CallID, item.ID, msg, raw); err != nil {
		logger.From(ctx).Warn("audit append failed", "action_item_id", item.ID, "err", err)
	}
}

// auditMetadata encodes meta for the audit trail. An empty object stands in
// when meta cannot be encoded so the change itself is still recorded.
func auditMetadata(meta any) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "{}", err
	}
	return string(raw), nil
}

func (s *Service) views(items []ActionItem) []View {
	now := s.clock().UTC()
	out := make([]View, 0, len(items))
	for _, it := range items {
		out = append(out, NewView(it, now))
	}
	return out
}

// IsClientError reports whether err should surface as a 4xx.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound)
}
