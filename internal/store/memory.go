package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
	"call-insights/internal/reporting"
)

// Memory is an in-memory Call Record Store for tests and local development.
// A single mutex makes every operation atomic, mirroring the Postgres
// transactions. It is not intended for production use.
type Memory struct {
	mu sync.Mutex

	calls      map[string]calls.Call
	byProvider map[string]string
	summaries  map[string]calls.Summary
	items      map[string]actions.ActionItem
	itemOrder  []string
	kpis       map[kpiKey]reporting.KPI
	tasks      []calls.Task
}

type kpiKey struct {
	period reporting.PeriodType
	start  int64
}

func NewMemory() *Memory {
	return &Memory{
		calls:      map[string]calls.Call{},
		byProvider: map[string]string{},
		summaries:  map[string]calls.Summary{},
		items:      map[string]actions.ActionItem{},
		kpis:       map[kpiKey]reporting.KPI{},
	}
}

// --- calls ---

func (m *Memory) CreateCallIfAbsent(ctx context.Context, c calls.Call, task calls.Task) (calls.Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byProvider[c.ProviderCallID]; ok {
		return m.calls[id], false, nil
	}
	m.calls[c.ID] = c
	m.byProvider[c.ProviderCallID] = c.ID
	m.tasks = append(m.tasks, task)
	return c, true, nil
}

func (m *Memory) GetCall(ctx context.Context, id string) (calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return calls.Call{}, calls.ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetCallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byProvider[providerCallID]
	if !ok {
		return calls.Call{}, calls.ErrNotFound
	}
	return m.calls[id], nil
}

func (m *Memory) ListCalls(ctx context.Context, f calls.ListFilter) ([]calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range m.calls {
		if !f.From.IsZero() && c.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !c.StartTime.Before(f.To) {
			continue
		}
		if f.Direction != "" && c.Direction != f.Direction {
			continue
		}
		if f.State != "" && c.State != f.State {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return page(out, f.Offset, f.Limit), nil
}

// Tasks returns a copy of all processing tasks. Used by tests.
func (m *Memory) Tasks() []calls.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

func (m *Memory) ClaimTasks(ctx context.Context, limit int, now time.Time, claimTTL time.Duration) ([]calls.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.Task
	for i := range m.tasks {
		if limit > 0 && len(out) >= limit {
			break
		}
		t := &m.tasks[i]
		claimable := t.Status == calls.TaskStatusQueued ||
			(t.Status == calls.TaskStatusClaimed && t.ClaimedAt != nil && claimTTL > 0 && !t.ClaimedAt.Add(claimTTL).After(now))
		if !claimable {
			continue
		}
		at := now
		t.Status = calls.TaskStatusClaimed
		t.ClaimedAt = &at
		out = append(out, *t)
	}
	return out, nil
}

func (m *Memory) CompleteTask(ctx context.Context, taskID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == taskID {
			m.tasks[i].Status = calls.TaskStatusDone
			return nil
		}
	}
	return calls.ErrNotFound
}

func (m *Memory) MarkStage(ctx context.Context, callID string, state calls.State, now time.Time) error {
	return m.updateCall(callID, func(c *calls.Call) error {
		c.State = state
		c.UpdatedAt = now
		return nil
	})
}

func (m *Memory) UpdateRecording(ctx context.Context, callID, path string, now time.Time) error {
	return m.updateCall(callID, func(c *calls.Call) error {
		c.RecordingDownloaded = true
		c.RecordingPath = path
		c.UpdatedAt = now
		return nil
	})
}

func (m *Memory) CompleteWithoutRecording(ctx context.Context, callID string, now time.Time) error {
	return m.updateCall(callID, func(c *calls.Call) error {
		c.State = calls.StateCompleted
		c.NoRecording = true
		c.UpdatedAt = now
		return nil
	})
}

func (m *Memory) MarkFailed(ctx context.Context, callID string, stage calls.Stage, reason string, now time.Time) error {
	return m.updateCall(callID, func(c *calls.Call) error {
		c.State = calls.StateFailed
		c.FailedStage = stage
		c.FailureReason = reason
		c.UpdatedAt = now
		return nil
	})
}

func (m *Memory) Reprocess(ctx context.Context, callID string, task calls.Task, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return calls.ErrNotFound
	}
	if !c.State.Terminal() {
		return calls.ErrInvalidState
	}
	c.State = calls.StateReceived
	c.FailedStage = ""
	c.FailureReason = ""
	c.NoRecording = false
	c.UpdatedAt = now
	m.calls[callID] = c
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *Memory) updateCall(callID string, fn func(c *calls.Call) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return calls.ErrNotFound
	}
	if err := fn(&c); err != nil {
		return err
	}
	m.calls[callID] = c
	return nil
}

// --- summaries ---

func (m *Memory) GetSummary(ctx context.Context, callID string) (calls.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[callID]
	if !ok {
		return calls.Summary{}, calls.ErrNotFound
	}
	return s, nil
}

func (m *Memory) WriteSummaryStage(ctx context.Context, callID string, stage calls.SummaryStage, f calls.SummaryFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return calls.ErrNotFound
	}
	s, exists := m.summaries[callID]
	if !exists {
		s = calls.Summary{CallID: callID, CreatedAt: f.At}
	}
	at := f.At
	if err := applySummaryStage(&s, &c, stage, f.Transcript, at); err != nil {
		return err
	}
	s.UpdatedAt = at
	c.UpdatedAt = at
	m.summaries[callID] = s
	m.calls[callID] = c
	return nil
}

func (m *Memory) CompleteAnalysis(ctx context.Context, callID string, a calls.Analysis, items []actions.ActionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return calls.ErrNotFound
	}
	s, exists := m.summaries[callID]
	if !exists {
		s = calls.Summary{CallID: callID, CreatedAt: a.CompletedAt}
	}
	applyAnalysis(&s, a)
	m.summaries[callID] = s

	m.supersedeLocked(callID, a.CompletedAt)
	m.appendLocked(items)

	c.State = calls.StateCompleted
	c.UpdatedAt = a.CompletedAt
	m.calls[callID] = c
	return nil
}

// --- action items ---

func (m *Memory) AppendActionItems(ctx context.Context, callID string, items []actions.ActionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[callID]; !ok {
		return calls.ErrNotFound
	}
	for _, it := range items {
		if it.CallID != callID {
			return actions.ErrInvalidArgument
		}
	}
	m.appendLocked(items)
	return nil
}

func (m *Memory) appendLocked(items []actions.ActionItem) {
	for _, it := range items {
		m.items[it.ID] = it
		m.itemOrder = append(m.itemOrder, it.ID)
	}
}

func (m *Memory) supersedeLocked(callID string, now time.Time) {
	for id, it := range m.items {
		if it.CallID == callID && it.SupersededAt == nil {
			t := now
			it.SupersededAt = &t
			it.UpdatedAt = now
			m.items[id] = it
		}
	}
}

func (m *Memory) GetActionItem(ctx context.Context, id string) (actions.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return actions.ActionItem{}, actions.ErrNotFound
	}
	return it, nil
}

func (m *Memory) ListActionItems(ctx context.Context, f actions.Filter) ([]actions.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]actions.ActionItem, 0)
	for _, id := range m.itemOrder {
		it := m.items[id]
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	sortItems(out, f.Order)
	return page(out, f.Offset, f.Limit), nil
}

func (m *Memory) TransitionActionItem(ctx context.Context, id string, to actions.Status, now time.Time) (actions.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return actions.ActionItem{}, actions.ErrNotFound
	}
	next, changed, err := actions.ApplyTransition(it, to, now)
	if err != nil {
		return it, err
	}
	if changed {
		m.items[id] = next
	}
	return next, nil
}

func (m *Memory) UpdateActionItem(ctx context.Context, id string, p actions.Patch, now time.Time) (actions.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return actions.ActionItem{}, actions.ErrNotFound
	}
	next, err := actions.ApplyPatch(it, p, now)
	if err != nil {
		return it, err
	}
	m.items[id] = next
	return next, nil
}

// --- KPIs ---

func (m *Memory) ListCallFacts(ctx context.Context, from, to time.Time) ([]reporting.CallFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reporting.CallFact, 0)
	for _, c := range m.calls {
		if c.StartTime.Before(from) || !c.StartTime.Before(to) {
			continue
		}
		f := reporting.CallFact{
			CallID:          c.ID,
			StartTime:       c.StartTime,
			Direction:       c.Direction,
			DurationSeconds: c.DurationSeconds,
			HasRecording:    c.RecordingURL != "",
		}
		if s, ok := m.summaries[c.ID]; ok {
			f.Transcribed = s.Transcript != ""
			f.Sentiment = s.Sentiment
			f.UrgencyScore = s.UrgencyScore
		}
		for _, it := range m.items {
			if it.CallID != c.ID || it.SupersededAt != nil {
				continue
			}
			f.ActionItems++
			if it.Status == actions.StatusCompleted {
				f.CompletedActionItems++
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out, nil
}

func (m *Memory) UpsertKPI(ctx context.Context, k reporting.KPI) (reporting.KPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kpis[kpiKey{period: k.PeriodType, start: k.PeriodStart.UnixNano()}] = k
	return k, nil
}

func (m *Memory) ListKPIs(ctx context.Context, p reporting.PeriodType, from, to time.Time) ([]reporting.KPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reporting.KPI, 0)
	for key, k := range m.kpis {
		if key.period != p {
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

// KPICount returns the number of stored KPI rows. Used by tests.
func (m *Memory) KPICount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.kpis)
}

func sortItems(items []actions.ActionItem, order actions.Order) {
	switch order {
	case actions.OrderPriority:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Priority != items[j].Priority {
				return items[i].Priority > items[j].Priority
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
	case actions.OrderDueDate:
		sort.SliceStable(items, func(i, j int) bool {
			di, dj := items[i].DueDate, items[j].DueDate
			if di == nil || dj == nil {
				return di != nil
			}
			return di.Before(*dj)
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	}
}

func page[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return in[:0]
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
