package reporting

import (
	"context"
	"errors"
	"time"

	"call-insights/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for KPI aggregation.
//
// IMPORTANT:
// - ListCallFacts selects calls by start_time in [from, to), not by creation time.
// - Action-item counts in CallFact exclude superseded items.
// - UpsertKPI replaces the row for (PeriodType, PeriodStart); it never appends.
type Repository interface {
	ListCallFacts(ctx context.Context, from, to time.Time) ([]CallFact, error)
	UpsertKPI(ctx context.Context, k KPI) (KPI, error)
	ListKPIs(ctx context.Context, periodType PeriodType, from, to time.Time) ([]KPI, error)
}

// Engine is the KPI aggregation engine. Recompute is a read-then-upsert and
// may run concurrently with pipeline writes; the next run converges.
type Engine struct {
	repo     Repository
	calendar Calendar
}

func NewEngine(repo Repository, calendar Calendar) *Engine {
	return &Engine{repo: repo, calendar: calendar}
}

func (e *Engine) Calendar() Calendar { return e.calendar }

// Recompute aggregates the period of type p that contains at and stores it.
func (e *Engine) Recompute(ctx context.Context, p PeriodType, at time.Time) (KPI, error) {
	if !p.Valid() || at.IsZero() {
		return KPI{}, ErrInvalidRequest
	}
	if e.repo == nil {
		return KPI{}, errors.New("reporting: repository not configured")
	}

	w, err := e.calendar.Window(p, at)
	if err != nil {
		return KPI{}, err
	}
	facts, err := e.repo.ListCallFacts(ctx, w.From, w.To)
	if err != nil {
		return KPI{}, err
	}

	k := Aggregate(facts)
	k.PeriodType = p
	k.PeriodStart = w.From
	k.PeriodEnd = w.To

	if _, err := e.repo.UpsertKPI(ctx, k); err != nil {
		return KPI{}, err
	}
	return k, nil
}

// RecomputeCurrent refreshes the daily, weekly and monthly periods containing now.
func (e *Engine) RecomputeCurrent(ctx context.Context, now time.Time) ([]KPI, error) {
	var out []KPI
	var errs []error
	for _, p := range []PeriodType{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		k, err := e.Recompute(ctx, p, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, k)
	}
	return out, errors.Join(errs...)
}

// List returns stored KPIs of type p whose period starts within r.
func (e *Engine) List(ctx context.Context, p PeriodType, r TimeRange) ([]KPI, error) {
	if !p.Valid() {
		return nil, ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	if e.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return e.repo.ListKPIs(ctx, p, r.From, r.To)
}

// Aggregate folds call facts into KPI metrics. Period fields are left zero.
func Aggregate(facts []CallFact) KPI {
	var out KPI
	urgencySum, scored := 0, 0
	for _, f := range facts {
		out.TotalCalls++
		out.TotalDurationSeconds += f.DurationSeconds
		switch f.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		if f.HasRecording {
			out.CallsWithRecording++
		}
		if f.Transcribed {
			out.CallsTranscribed++
		}
		switch f.Sentiment {
		case calls.SentimentPositive:
			out.PositiveSentiment++
		case calls.SentimentNeutral:
			out.NeutralSentiment++
		case calls.SentimentNegative:
			out.NegativeSentiment++
		}
		if f.UrgencyScore != nil {
			urgencySum += *f.UrgencyScore
			scored++
		}
		out.TotalActionItems += f.ActionItems
		out.CompletedActionItems += f.CompletedActionItems
	}
	if out.TotalCalls > 0 {
		out.AvgDurationSeconds = float64(out.TotalDurationSeconds) / float64(out.TotalCalls)
	}
	if scored > 0 {
		avg := float64(urgencySum) / float64(scored)
		out.AvgUrgencyScore = &avg
	}
	return out
}
