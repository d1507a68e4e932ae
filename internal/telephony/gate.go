package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"call-insights/internal/calls"
	"call-insights/pkg/logger"
)

// CallStore creates a call together with its processing task, once per
// provider call id. created is false when the call already existed.
type CallStore interface {
	CreateCallIfAbsent(ctx context.Context, c calls.Call, task calls.Task) (calls.Call, bool, error)
}

// Waker nudges the worker pool. It must not block.
type Waker interface {
	Wake()
}

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome Outcome
	// CallID is the provider call id; empty for ignored events.
	CallID    string
	EventType string
}

// Gate verifies, validates and deduplicates provider events, and enqueues
// processing for new calls. It never waits on pipeline work.
type Gate struct {
	secret string
	store  CallStore
	waker  Waker

	clock func() time.Time
	newID func() string
}

func NewGate(secret string, store CallStore, waker Waker) *Gate {
	return &Gate{
		secret: secret,
		store:  store,
		waker:  waker,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// Receive handles one raw webhook body. The signature is checked before any parsing.
func (g *Gate) Receive(ctx context.Context, raw []byte, signature string) (Result, error) {
	if err := VerifySignature(g.secret, raw, signature); err != nil {
		return Result{}, err
	}
	w, err := ParseWebhook(raw)
	if err != nil {
		return Result{}, err
	}
	if w.EventType != EventCallEnded {
		return Result{Outcome: OutcomeIgnored, EventType: w.EventType}, nil
	}

	now := g.clock().UTC()
	call, err := w.ToCall(g.newID(), now)
	if err != nil {
		return Result{}, err
	}
	task := calls.Task{
		ID:        g.newID(),
		CallID:    call.ID,
		Reason:    calls.TaskReasonWebhook,
		Status:    calls.TaskStatusQueued,
		CreatedAt: now,
	}

	stored, created, err := g.store.CreateCallIfAbsent(ctx, call, task)
	if err != nil {
		return Result{}, fmt.Errorf("create call: %w", err)
	}
	res := Result{CallID: stored.ProviderCallID, EventType: w.EventType}
	if !created {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	res.Outcome = OutcomeAccepted
	logger.From(ctx).Info("call accepted", "call_id", stored.ID, "provider_call_id", stored.ProviderCallID, "task_id", task.ID)
	if g.waker != nil {
		g.waker.Wake()
	}
	return res, nil
}
