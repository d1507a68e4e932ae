package reporting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory KPI repository for tests and early development.
// Facts are seeded directly; KPIs are keyed like the kpis table.
type MemoryRepo struct {
	mu sync.Mutex

	Facts []CallFact
	KPIs  map[string]KPI // key: period_type|period_start unix

	Upserts int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{KPIs: map[string]KPI{}} }

func kpiKey(p PeriodType, start time.Time) string {
	return string(p) + "|" + start.UTC().Format(time.RFC3339Nano)
}

func (r *MemoryRepo) ListCallFacts(ctx context.Context, from, to time.Time) ([]CallFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallFact, 0)
	for _, f := range r.Facts {
		if f.StartTime.Before(from) || !f.StartTime.Before(to) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *MemoryRepo) UpsertKPI(ctx context.Context, k KPI) (KPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.KPIs[kpiKey(k.PeriodType, k.PeriodStart)] = k
	r.Upserts++
	return k, nil
}

func (r *MemoryRepo) ListKPIs(ctx context.Context, p PeriodType, from, to time.Time) ([]KPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]KPI, 0)
	for _, k := range r.KPIs {
		if k.PeriodType != p {
			continue
		}
		if k.PeriodStart.Before(from) || !k.PeriodStart.Before(to) {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}
