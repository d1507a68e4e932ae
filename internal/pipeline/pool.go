package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"call-insights/internal/calls"
	"call-insights/pkg/logger"
)

// Queue is the durable task outbox.
type Queue interface {
	ClaimTasks(ctx context.Context, limit int, now time.Time, claimTTL time.Duration) ([]calls.Task, error)
	CompleteTask(ctx context.Context, taskID string, now time.Time) error
	Reprocess(ctx context.Context, callID string, task calls.Task, now time.Time) error
}

// Runner processes one claimed task.
type Runner interface {
	Run(ctx context.Context, task calls.Task) error
}

type PoolConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	ClaimTTL     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.BatchSize <= 0 {
		out.BatchSize = out.Workers
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.ClaimTTL <= 0 {
		out.ClaimTTL = 30 * time.Minute
	}
	return out
}

// Actor identifies the operator requesting a reprocess.
type Actor struct {
	UserID string
	Role   string
}

// Pool claims queued tasks and runs at most Workers of them concurrently.
//
// Runs execute under the pool's own context, not the one passed to Run, so a
// shutdown signal stops claiming without aborting in-flight calls; Shutdown
// bounds how long those are awaited.
type Pool struct {
	queue  Queue
	runner Runner
	audit  Auditor
	cfg    PoolConfig
	log    *slog.Logger

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc

	clock func() time.Time
	newID func() string
}

func NewPool(queue Queue, runner Runner, audit Auditor, cfg PoolConfig, log *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	runCtx, cancel := context.WithCancel(logger.With(context.Background(), log))
	return &Pool{
		queue:     queue,
		runner:    runner,
		audit:     audit,
		cfg:       cfg,
		log:       log,
		wake:      make(chan struct{}, 1),
		sem:       make(chan struct{}, cfg.Workers),
		runCtx:    runCtx,
		cancelRun: cancel,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// Wake asks the dispatcher to claim now. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is done. It does not wait for in-flight runs; call Shutdown.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	p.log.Info("pipeline pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval.String())

	for {
		p.dispatch(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("pipeline pool stopped claiming")
			return
		case <-p.wake:
		case <-t.C:
		}
	}
}

func (p *Pool) dispatch(ctx context.Context) {
	free := cap(p.sem) - len(p.sem)
	if free <= 0 || ctx.Err() != nil {
		return
	}
	limit := p.cfg.BatchSize
	if limit > free {
		limit = free
	}
	tasks, err := p.queue.ClaimTasks(ctx, limit, p.clock().UTC(), p.cfg.ClaimTTL)
	if err != nil {
		p.log.Error("claim tasks failed", "err", err)
		return
	}
	for _, task := range tasks {
		p.sem <- struct{}{}
		p.wg.Add(1)
		go func(task calls.Task) {
			defer func() {
				<-p.sem
				p.wg.Done()
				p.Wake()
			}()
			p.runTask(p.runCtx, task)
		}(task)
	}
}

func (p *Pool) runTask(ctx context.Context, task calls.Task) {
	if err := p.runner.Run(ctx, task); err != nil {
		p.log.Warn("task left claimed for retry", "task_id", task.ID, "call_id", task.CallID, "err", err)
		return
	}
	if err := p.queue.CompleteTask(ctx, task.ID, p.clock().UTC()); err != nil {
		p.log.Error("complete task failed", "task_id", task.ID, "err", err)
	}
}

// RunOnce claims one batch and runs it synchronously. It returns the number of
// tasks claimed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	tasks, err := p.queue.ClaimTasks(ctx, p.cfg.BatchSize, p.clock().UTC(), p.cfg.ClaimTTL)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		p.runTask(logger.With(ctx, p.log), task)
	}
	return len(tasks), nil
}

// Shutdown waits for in-flight runs. If ctx expires first, the runs are
// cancelled (their tasks stay claimed) and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelRun()
		return nil
	case <-ctx.Done():
		p.cancelRun()
		<-done
		return ctx.Err()
	}
}

// Reprocess resets a completed or failed call and enqueues a new run.
// It returns ErrInvalidState while the call is in flight.
func (p *Pool) Reprocess(ctx context.Context, actor Actor, callID string) (calls.Task, error) {
	now := p.clock().UTC()
	task := calls.Task{
		ID:        p.newID(),
		CallID:    callID,
		Reason:    calls.TaskReasonReprocess,
		Status:    calls.TaskStatusQueued,
		CreatedAt: now,
	}
	if err := p.queue.Reprocess(ctx, callID, task, now); err != nil {
		return calls.Task{}, err
	}
	if p.audit != nil {
		if err := p.audit.LogReprocess(ctx, actor.UserID, actor.Role, callID, task.ID); err != nil {
			logger.From(ctx).Warn("audit append failed", "call_id", callID, "err", err)
		}
	}
	p.Wake()
	return task, nil
}
