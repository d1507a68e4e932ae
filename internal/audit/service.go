package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only; it is not exposed through the operator API.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if !e.Type.Valid() {
		return ErrInvalidEvent
	}
	if e.Type.System() {
		if e.ActorUserID == "" {
			e.ActorUserID = SystemActor
		}
	} else if e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogActionItemChange records an operator edit of an action item.
func (s *Service) LogActionItemChange(ctx context.Context, actorUserID, actorRole, callID, itemID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeActionItemChanged,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		CallID:      callID,
		EntityID:    itemID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogReprocess records an operator-requested re-run of the pipeline.
func (s *Service) LogReprocess(ctx context.Context, actorUserID, actorRole, callID, taskID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallReprocessed,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		CallID:      callID,
		EntityID:    taskID,
		Message:     "reprocess requested",
	})
}

// LogKPIRecompute records an on-demand KPI recompute.
func (s *Service) LogKPIRecompute(ctx context.Context, actorUserID, actorRole, periodType, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeKPIRecomputed,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		EntityID:    periodType,
		Message:     "kpi recompute requested",
		Metadata:    metadata,
	})
}

// LogPipelineFailure records a call that reached the failed state.
func (s *Service) LogPipelineFailure(ctx context.Context, callID, stage, reason string) error {
	return s.Append(ctx, Event{
		Type:     EventTypePipelineFailed,
		CallID:   callID,
		EntityID: stage,
		Message:  reason,
	})
}

// LogNotificationFailure records a failed post-completion notification.
func (s *Service) LogNotificationFailure(ctx context.Context, callID, reason string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeNotificationFailed,
		CallID:  callID,
		Message: reason,
	})
}
