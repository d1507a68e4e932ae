package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler periodically recomputes the current daily, weekly and monthly KPIs.
type Scheduler struct {
	engine *Engine
	spec   string
	log    *slog.Logger
	clock  func() time.Time

	mu   sync.Mutex
	cron *rcron.Cron
}

// NewScheduler validates spec (seconds-enabled cron syntax) up front.
func NewScheduler(engine *Engine, spec string, log *slog.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("reporting: engine is required")
	}
	parser := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("reporting: invalid schedule %q: %w", spec, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{engine: engine, spec: spec, log: log, clock: time.Now}, nil
}

// Start registers the job and returns; the job stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("reporting: scheduler already started")
	}

	c := rcron.New(rcron.WithSeconds(), rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("kpi scheduler started", "schedule", s.spec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("kpi scheduler stopped")
}

// RunOnce recomputes the current periods, logging failures.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	kpis, err := s.engine.RecomputeCurrent(ctx, s.clock())
	if err != nil {
		s.log.Error("kpi recompute failed", "err", err)
	}
	s.log.Debug("kpi recompute finished", "periods", len(kpis), "duration_ms", float64(time.Since(start).Milliseconds()))
}
