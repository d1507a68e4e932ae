package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
	"call-insights/internal/notify"
	"call-insights/pkg/logger"
)

// Store is the slice of the Call Record Store the processor writes through.
// Each method commits before returning.
type Store interface {
	GetCall(ctx context.Context, id string) (calls.Call, error)
	GetSummary(ctx context.Context, callID string) (calls.Summary, error)
	MarkStage(ctx context.Context, callID string, state calls.State, now time.Time) error
	UpdateRecording(ctx context.Context, callID, path string, now time.Time) error
	CompleteWithoutRecording(ctx context.Context, callID string, now time.Time) error
	WriteSummaryStage(ctx context.Context, callID string, stage calls.SummaryStage, f calls.SummaryFields) error
	CompleteAnalysis(ctx context.Context, callID string, a calls.Analysis, items []actions.ActionItem) error
	MarkFailed(ctx context.Context, callID string, stage calls.Stage, reason string, now time.Time) error
	ListActionItems(ctx context.Context, f actions.Filter) ([]actions.ActionItem, error)
}

type Downloader interface {
	Download(ctx context.Context, url string) (path string, err error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (AnalysisResult, error)
}

// Auditor records pipeline and reprocess events. Best-effort.
type Auditor interface {
	LogPipelineFailure(ctx context.Context, callID, stage, reason string) error
	LogNotificationFailure(ctx context.Context, callID, reason string) error
	LogReprocess(ctx context.Context, actorUserID, actorRole, callID, taskID string) error
}

// Timeouts bound a single attempt of each collaborator call.
type Timeouts struct {
	Download   time.Duration
	Transcribe time.Duration
	Analyze    time.Duration
	Notify     time.Duration
}

type Deps struct {
	Downloader  Downloader
	Transcriber Transcriber
	Analyzer    Analyzer
	Publisher   notify.Publisher
	Auditor     Auditor
	Limiter     Limiter
}

// Processor drives one call through download, transcribe, analyze and notify.
//
// Stages run strictly in order and each stage's store write commits before
// the next stage starts. Stage failures are recorded on the call, never
// returned; Run only returns an error when the task should stay claimed
// (cancellation or a store failure) so it is retried after the claim TTL.
type Processor struct {
	store    Store
	deps     Deps
	retry    RetryPolicy
	timeouts Timeouts

	clock func() time.Time
	newID func() string
}

func NewProcessor(store Store, deps Deps, retry RetryPolicy, timeouts Timeouts) *Processor {
	if deps.Limiter == nil {
		deps.Limiter = NoopLimiter()
	}
	return &Processor{
		store:    store,
		deps:     deps,
		retry:    retry,
		timeouts: timeouts,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

func (p *Processor) now() time.Time { return p.clock().UTC() }

func (p *Processor) Run(ctx context.Context, task calls.Task) error {
	ctx, log := logger.WithAttrs(ctx, "call_id", task.CallID, "task_id", task.ID, "reason", string(task.Reason))

	c, err := p.store.GetCall(ctx, task.CallID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("task references unknown call; dropping")
			return nil
		}
		return err
	}
	if c.State.Terminal() {
		// A recovered claim whose run already finished.
		log.Info("call already terminal; nothing to do", "state", string(c.State))
		return nil
	}

	if c.RecordingURL == "" {
		if err := p.store.CompleteWithoutRecording(ctx, c.ID, p.now()); err != nil {
			return err
		}
		log.Info("call completed without recording")
		p.notify(ctx, c.ID)
		return nil
	}

	release, err := p.deps.Limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	if err := p.process(ctx, c); err != nil {
		return err
	}
	log.Info("call processed", "duration_ms", float64(time.Since(start).Milliseconds()))
	return nil
}

func (p *Processor) process(ctx context.Context, c calls.Call) error {
	log := logger.From(ctx)

	// Downloading
	if err := p.store.MarkStage(ctx, c.ID, calls.StateDownloading, p.now()); err != nil {
		return err
	}
	var path string
	attempts, err := p.retry.Do(ctx, p.timeouts.Download, func(ctx context.Context) error {
		got, err := p.deps.Downloader.Download(ctx, c.RecordingURL)
		if err != nil {
			return err
		}
		path = got
		return nil
	})
	if err != nil {
		return p.fail(ctx, c.ID, calls.StageDownloading, attempts, err)
	}
	defer func() {
		if err := removeRecording(path); err != nil {
			log.Warn("recording cleanup failed", "path", path, "err", err)
			return
		}
		// The file is gone; the call keeps the downloaded flag but no longer points at it.
		if err := p.store.UpdateRecording(context.WithoutCancel(ctx), c.ID, "", p.now()); err != nil {
			log.Warn("recording path clear failed", "err", err)
		}
	}()
	if err := p.store.UpdateRecording(ctx, c.ID, path, p.now()); err != nil {
		return err
	}

	// Transcribing
	if err := p.store.WriteSummaryStage(ctx, c.ID, calls.SummaryTranscriptionStarted, calls.SummaryFields{At: p.now()}); err != nil {
		return err
	}
	var transcript string
	attempts, err = p.retry.Do(ctx, p.timeouts.Transcribe, func(ctx context.Context) error {
		text, err := p.deps.Transcriber.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		return p.fail(ctx, c.ID, calls.StageTranscribing, attempts, err)
	}
	if err := p.store.WriteSummaryStage(ctx, c.ID, calls.SummaryTranscriptionCompleted, calls.SummaryFields{Transcript: transcript, At: p.now()}); err != nil {
		return err
	}

	// Analyzing
	if err := p.store.WriteSummaryStage(ctx, c.ID, calls.SummaryAnalysisStarted, calls.SummaryFields{At: p.now()}); err != nil {
		return err
	}
	var result AnalysisResult
	attempts, err = p.retry.Do(ctx, p.timeouts.Analyze, func(ctx context.Context) error {
		r, err := p.deps.Analyzer.Analyze(ctx, transcript)
		if err != nil {
			return err
		}
		if err := ValidateAnalysis(r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return p.fail(ctx, c.ID, calls.StageAnalyzing, attempts, err)
	}

	now := p.now()
	items := toActionItems(c.ID, result, now, p.newID)
	if err := p.store.CompleteAnalysis(ctx, c.ID, toAnalysis(result, now), items); err != nil {
		return err
	}
	log.Info("analysis stored", "action_items", len(items), "urgency", result.UrgencyScore)

	p.notify(ctx, c.ID)
	return nil
}

// fail records Failed(stage, reason). A cancelled run is not a stage failure:
// the task stays claimed and is picked up again after the claim TTL.
func (p *Processor) fail(ctx context.Context, callID string, stage calls.Stage, attempts int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	reason := failureReason(err)
	logger.From(ctx).Error("stage failed", "stage", string(stage), "attempts", attempts, "err", err)
	if merr := p.store.MarkFailed(ctx, callID, stage, reason, p.now()); merr != nil {
		return merr
	}
	if p.deps.Auditor != nil {
		if aerr := p.deps.Auditor.LogPipelineFailure(ctx, callID, string(stage), reason); aerr != nil {
			logger.From(ctx).Warn("audit append failed", "err", aerr)
		}
	}
	return nil
}

// notify publishes exactly one completion event. Failures never change call state.
func (p *Processor) notify(ctx context.Context, callID string) {
	if p.deps.Publisher == nil {
		return
	}
	log := logger.From(ctx)

	c, err := p.store.GetCall(ctx, callID)
	if err != nil {
		log.Error("notification skipped: reload call", "err", err)
		return
	}
	e := notify.Event{Call: c, CompletedAt: c.UpdatedAt}
	if !c.NoRecording {
		s, err := p.store.GetSummary(ctx, callID)
		if err != nil && !errors.Is(err, calls.ErrNotFound) {
			log.Error("notification skipped: load summary", "err", err)
			return
		}
		e.Summary = s
		items, err := p.store.ListActionItems(ctx, actions.Filter{CallID: callID, Order: actions.OrderPriority})
		if err != nil {
			log.Error("notification skipped: load action items", "err", err)
			return
		}
		e.ActionItems = items
	}

	nctx := ctx
	if p.timeouts.Notify > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, p.timeouts.Notify)
		defer cancel()
	}
	if err := p.deps.Publisher.Publish(nctx, e); err != nil {
		log.Error("notification failed", "err", err)
		if p.deps.Auditor != nil {
			if aerr := p.deps.Auditor.LogNotificationFailure(ctx, callID, err.Error()); aerr != nil {
				log.Warn("audit append failed", "err", aerr)
			}
		}
	}
}
