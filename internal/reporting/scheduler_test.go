package reporting

import (
	"context"
	"testing"
	"time"
)

func TestNewScheduler_RejectsInvalidSpec(t *testing.T) {
	e := NewEngine(NewMemoryRepo(), NewCalendar(time.UTC, time.Monday))
	if _, err := NewScheduler(e, "not a cron", nil); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
	if _, err := NewScheduler(nil, "0 * * * * *", nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}

func TestScheduler_RunOnceRecomputesCurrentPeriods(t *testing.T) {
	repo := NewMemoryRepo()
	e := NewEngine(repo, NewCalendar(time.UTC, time.Monday))
	s, err := NewScheduler(e, "0 */15 * * * *", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	s.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	s.RunOnce(context.Background())
	if len(repo.KPIs) != 3 {
		t.Fatalf("expected 3 KPI rows, got %d", len(repo.KPIs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnce(ctx)
	if repo.Upserts != 3 {
		t.Fatalf("expected no recompute after cancel, got %d upserts", repo.Upserts)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	e := NewEngine(NewMemoryRepo(), NewCalendar(time.UTC, time.Monday))
	s, err := NewScheduler(e, "@every 1h", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on double start")
	}
	s.Stop()
	s.Stop()
}
