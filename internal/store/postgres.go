package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
	"call-insights/internal/reporting"
	"call-insights/pkg/utils"

	"github.com/google/uuid"
)

// Postgres is the production Call Record Store.
//
// Every multi-row write runs inside utils.WithTx. Row locks (FOR UPDATE) serialize
// action-item mutations, and task claiming uses SKIP LOCKED so several
// replicas can share the queue.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- calls ---

const callColumns = `id, provider_call_id, direction, caller_number, caller_name, called_number, called_name,
  start_time, end_time, duration_seconds, recording_url, recording_downloaded, recording_path,
  state, failed_stage, failure_reason, no_recording, webhook_received_at, created_at, updated_at`

func scanCall(r rowScanner) (calls.Call, error) {
	var c calls.Call
	var end sql.NullTime
	if err := r.Scan(
		&c.ID,
		&c.ProviderCallID,
		&c.Direction,
		&c.CallerNumber,
		&c.CallerName,
		&c.CalledNumber,
		&c.CalledName,
		&c.StartTime,
		&end,
		&c.DurationSeconds,
		&c.RecordingURL,
		&c.RecordingDownloaded,
		&c.RecordingPath,
		&c.State,
		&c.FailedStage,
		&c.FailureReason,
		&c.NoRecording,
		&c.WebhookReceivedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return calls.Call{}, err
	}
	c.EndTime = timePtr(end)
	return c, nil
}

func (p *Postgres) CreateCallIfAbsent(ctx context.Context, c calls.Call, task calls.Task) (calls.Call, bool, error) {
	var out calls.Call
	created := false
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		created = false
		const ins = `
INSERT INTO calls (
  id, provider_call_id, direction, caller_number, caller_name, called_number, called_name,
  start_time, end_time, duration_seconds, recording_url, recording_downloaded, recording_path,
  state, failed_stage, failure_reason, no_recording, webhook_received_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (provider_call_id) DO NOTHING
`
		res, err := tx.ExecContext(ctx, ins,
			c.ID,
			c.ProviderCallID,
			c.Direction,
			c.CallerNumber,
			c.CallerName,
			c.CalledNumber,
			c.CalledName,
			c.StartTime,
			nullTime(c.EndTime),
			c.DurationSeconds,
			c.RecordingURL,
			c.RecordingDownloaded,
			c.RecordingPath,
			c.State,
			c.FailedStage,
			c.FailureReason,
			c.NoRecording,
			c.WebhookReceivedAt,
			c.CreatedAt,
			c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			existing, err := getCallByProvider(ctx, tx, c.ProviderCallID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		out = c
		created = true
		return nil
	})
	if err != nil {
		return calls.Call{}, false, err
	}
	return out, created, nil
}

func getCallByProvider(ctx context.Context, q queryer, providerCallID string) (calls.Call, error) {
	c, err := scanCall(q.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_call_id = $1`, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, calls.ErrNotFound
		}
		return calls.Call{}, err
	}
	return c, nil
}

func getCall(ctx context.Context, q queryer, id string, forUpdate bool) (calls.Call, error) {
	if uuid.Validate(id) != nil {
		return calls.Call{}, calls.ErrNotFound
	}
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCall(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, calls.ErrNotFound
		}
		return calls.Call{}, err
	}
	return c, nil
}

func (p *Postgres) GetCall(ctx context.Context, id string) (calls.Call, error) {
	return getCall(ctx, p.db, id, false)
}

func (p *Postgres) GetCallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error) {
	return getCallByProvider(ctx, p.db, providerCallID)
}

func (p *Postgres) ListCalls(ctx context.Context, f calls.ListFilter) ([]calls.Call, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if f.Direction != "" {
		add("direction = $%d", f.Direction)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}
	q := `SELECT ` + callColumns + ` FROM calls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_time DESC, id` + limitOffset(&args, f.Limit, f.Offset)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]calls.Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkStage(ctx context.Context, callID string, state calls.State, now time.Time) error {
	const q = `UPDATE calls SET state = $2, updated_at = $3 WHERE id = $1`
	return execOne(ctx, p.db, q, callID, state, now)
}

func (p *Postgres) UpdateRecording(ctx context.Context, callID, path string, now time.Time) error {
	const q = `
UPDATE calls
SET recording_downloaded = TRUE, recording_path = $2, updated_at = $3
WHERE id = $1
`
	return execOne(ctx, p.db, q, callID, path, now)
}

func (p *Postgres) CompleteWithoutRecording(ctx context.Context, callID string, now time.Time) error {
	const q = `
UPDATE calls
SET state = 'completed', no_recording = TRUE, updated_at = $2
WHERE id = $1
`
	return execOne(ctx, p.db, q, callID, now)
}

func (p *Postgres) MarkFailed(ctx context.Context, callID string, stage calls.Stage, reason string, now time.Time) error {
	const q = `
UPDATE calls
SET state = 'failed', failed_stage = $2, failure_reason = $3, updated_at = $4
WHERE id = $1
`
	return execOne(ctx, p.db, q, callID, stage, reason, now)
}

func (p *Postgres) Reprocess(ctx context.Context, callID string, task calls.Task, now time.Time) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCall(ctx, tx, callID, true)
		if err != nil {
			return err
		}
		if !c.State.Terminal() {
			return calls.ErrInvalidState
		}
		const q = `
UPDATE calls
SET state = 'received', failed_stage = '', failure_reason = '', no_recording = FALSE, updated_at = $2
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q, callID, now); err != nil {
			return err
		}
		return insertTask(ctx, tx, task)
	})
}

// --- tasks ---

func insertTask(ctx context.Context, tx *sql.Tx, t calls.Task) error {
	const q = `
INSERT INTO processing_tasks (id, call_id, reason, status, claimed_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := tx.ExecContext(ctx, q, t.ID, t.CallID, t.Reason, t.Status, nullTime(t.ClaimedAt), t.CreatedAt)
	return err
}

// ClaimTasks claims up to limit queued tasks, plus claimed tasks whose claim is
// older than claimTTL (a worker crashed mid-run).
func (p *Postgres) ClaimTasks(ctx context.Context, limit int, now time.Time, claimTTL time.Duration) ([]calls.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []calls.Task
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		out = out[:0]
		const q = `
UPDATE processing_tasks
SET status = 'claimed', claimed_at = $1
WHERE id IN (
  SELECT id FROM processing_tasks
  WHERE status = 'queued'
     OR (status = 'claimed' AND $3::float8 > 0 AND claimed_at <= $1 - make_interval(secs => $3::float8))
  ORDER BY created_at
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING id, call_id, reason, status, claimed_at, created_at
`
		rows, err := tx.QueryContext(ctx, q, now, limit, claimTTL.Seconds())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t calls.Task
			var claimed sql.NullTime
			if err := rows.Scan(&t.ID, &t.CallID, &t.Reason, &t.Status, &claimed, &t.CreatedAt); err != nil {
				return err
			}
			t.ClaimedAt = timePtr(claimed)
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) CompleteTask(ctx context.Context, taskID string, now time.Time) error {
	const q = `UPDATE processing_tasks SET status = 'done' WHERE id = $1`
	return execOne(ctx, p.db, q, taskID)
}

// --- summaries ---

func scanSummary(r rowScanner) (calls.Summary, error) {
	var s calls.Summary
	var urgency sql.NullInt64
	var topics, steps []byte
	var tStart, tDone, aStart, aDone sql.NullTime
	if err := r.Scan(
		&s.CallID,
		&s.Transcript,
		&s.Summary,
		&s.Sentiment,
		&urgency,
		&topics,
		&steps,
		&s.CustomerSatisfaction,
		&tStart,
		&tDone,
		&aStart,
		&aDone,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return calls.Summary{}, err
	}
	if urgency.Valid {
		u := int(urgency.Int64)
		s.UrgencyScore = &u
	}
	if err := decodeList(topics, &s.KeyTopics); err != nil {
		return calls.Summary{}, err
	}
	if err := decodeList(steps, &s.NextSteps); err != nil {
		return calls.Summary{}, err
	}
	s.TranscriptionStartedAt = timePtr(tStart)
	s.TranscriptionCompletedAt = timePtr(tDone)
	s.AnalysisStartedAt = timePtr(aStart)
	s.AnalysisCompletedAt = timePtr(aDone)
	return s, nil
}

func (p *Postgres) GetSummary(ctx context.Context, callID string) (calls.Summary, error) {
	if uuid.Validate(callID) != nil {
		return calls.Summary{}, calls.ErrNotFound
	}
	const q = `
SELECT call_id, transcript, summary, sentiment, urgency_score, key_topics, next_steps, customer_satisfaction,
       transcription_started_at, transcription_completed_at, analysis_started_at, analysis_completed_at,
       created_at, updated_at
FROM call_summaries
WHERE call_id = $1
`
	s, err := scanSummary(p.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Summary{}, calls.ErrNotFound
		}
		return calls.Summary{}, err
	}
	return s, nil
}

// WriteSummaryStage upserts the summary shell for callID and moves the call
// state with it, in one transaction.
func (p *Postgres) WriteSummaryStage(ctx context.Context, callID string, stage calls.SummaryStage, f calls.SummaryFields) error {
	var (
		set   string
		state calls.State
		args  = []any{callID, f.At}
	)
	switch stage {
	case calls.SummaryTranscriptionStarted:
		// A new run starts over, so the previous run's output goes with it.
		set = `transcription_started_at = $2,
  transcript = '', summary = '', sentiment = '', urgency_score = NULL,
  key_topics = '[]', next_steps = '[]', customer_satisfaction = '',
  transcription_completed_at = NULL, analysis_started_at = NULL, analysis_completed_at = NULL`
		state = calls.StateTranscribing
	case calls.SummaryTranscriptionCompleted:
		set = "transcript = $3, transcription_completed_at = $2"
		args = append(args, f.Transcript)
	case calls.SummaryAnalysisStarted:
		set = "analysis_started_at = $2"
		state = calls.StateAnalyzing
	default:
		return fmt.Errorf("store: unknown summary stage %q", stage)
	}

	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getCall(ctx, tx, callID, true); err != nil {
			return err
		}
		const shell = `
INSERT INTO call_summaries (call_id, created_at, updated_at)
VALUES ($1, $2, $2)
ON CONFLICT (call_id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, shell, callID, f.At); err != nil {
			return err
		}
		q := `UPDATE call_summaries SET ` + set + `, updated_at = $2 WHERE call_id = $1`
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		if state != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE calls SET state = $2, updated_at = $3 WHERE id = $1`, callID, state, f.At); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompleteAnalysis commits the analysis, supersedes prior live action items,
// inserts the new ones and marks the call completed.
func (p *Postgres) CompleteAnalysis(ctx context.Context, callID string, a calls.Analysis, items []actions.ActionItem) error {
	topics, err := json.Marshal(nonNil(a.KeyTopics))
	if err != nil {
		return err
	}
	steps, err := json.Marshal(nonNil(a.NextSteps))
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getCall(ctx, tx, callID, true); err != nil {
			return err
		}
		const upsert = `
INSERT INTO call_summaries (
  call_id, summary, sentiment, urgency_score, key_topics, next_steps, customer_satisfaction,
  analysis_completed_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8,$8)
ON CONFLICT (call_id) DO UPDATE SET
  summary = EXCLUDED.summary,
  sentiment = EXCLUDED.sentiment,
  urgency_score = EXCLUDED.urgency_score,
  key_topics = EXCLUDED.key_topics,
  next_steps = EXCLUDED.next_steps,
  customer_satisfaction = EXCLUDED.customer_satisfaction,
  analysis_completed_at = EXCLUDED.analysis_completed_at,
  updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsert,
			callID,
			a.Summary,
			a.Sentiment,
			a.UrgencyScore,
			string(topics),
			string(steps),
			a.CustomerSatisfaction,
			a.CompletedAt,
		); err != nil {
			return err
		}

		const supersede = `
UPDATE action_items
SET superseded_at = $2, updated_at = $2
WHERE call_id = $1 AND superseded_at IS NULL
`
		if _, err := tx.ExecContext(ctx, supersede, callID, a.CompletedAt); err != nil {
			return err
		}
		for _, it := range items {
			if err := insertActionItem(ctx, tx, it); err != nil {
				return err
			}
		}
		const done = `UPDATE calls SET state = 'completed', updated_at = $2 WHERE id = $1`
		_, err := tx.ExecContext(ctx, done, callID, a.CompletedAt)
		return err
	})
}

// --- action items ---

const itemColumns = `id, call_id, description, assigned_to, due_date, status, priority,
  completed_at, superseded_at, created_at, updated_at`

func scanItem(r rowScanner) (actions.ActionItem, error) {
	var it actions.ActionItem
	var due, completed, superseded sql.NullTime
	if err := r.Scan(
		&it.ID,
		&it.CallID,
		&it.Description,
		&it.AssignedTo,
		&due,
		&it.Status,
		&it.Priority,
		&completed,
		&superseded,
		&it.CreatedAt,
		&it.UpdatedAt,
	); err != nil {
		return actions.ActionItem{}, err
	}
	it.DueDate = timePtr(due)
	it.CompletedAt = timePtr(completed)
	it.SupersededAt = timePtr(superseded)
	return it, nil
}

func insertActionItem(ctx context.Context, tx *sql.Tx, it actions.ActionItem) error {
	const q = `
INSERT INTO action_items (
  id, call_id, description, assigned_to, due_date, status, priority,
  completed_at, superseded_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := tx.ExecContext(ctx, q,
		it.ID,
		it.CallID,
		it.Description,
		it.AssignedTo,
		nullTime(it.DueDate),
		it.Status,
		it.Priority,
		nullTime(it.CompletedAt),
		nullTime(it.SupersededAt),
		it.CreatedAt,
		it.UpdatedAt,
	)
	return err
}

func (p *Postgres) AppendActionItems(ctx context.Context, callID string, items []actions.ActionItem) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getCall(ctx, tx, callID, false); err != nil {
			return err
		}
		for _, it := range items {
			if it.CallID != callID {
				return actions.ErrInvalidArgument
			}
			if err := insertActionItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func getItem(ctx context.Context, q queryer, id string, forUpdate bool) (actions.ActionItem, error) {
	if uuid.Validate(id) != nil {
		return actions.ActionItem{}, actions.ErrNotFound
	}
	query := `SELECT ` + itemColumns + ` FROM action_items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	it, err := scanItem(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return actions.ActionItem{}, actions.ErrNotFound
		}
		return actions.ActionItem{}, err
	}
	return it, nil
}

func (p *Postgres) GetActionItem(ctx context.Context, id string) (actions.ActionItem, error) {
	return getItem(ctx, p.db, id, false)
}

func (p *Postgres) ListActionItems(ctx context.Context, f actions.Filter) ([]actions.ActionItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CallID != "" {
		add("call_id = $%d", f.CallID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			args = append(args, s)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if f.AssignedTo != "" {
		add("assigned_to = $%d", f.AssignedTo)
	}
	if f.MinPriority > 0 {
		add("priority >= $%d", f.MinPriority)
	}
	if f.DueBefore != nil {
		add("due_date IS NOT NULL AND due_date < $%d", *f.DueBefore)
	}
	if !f.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}

	q := `SELECT ` + itemColumns + ` FROM action_items`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch f.Order {
	case actions.OrderPriority:
		q += ` ORDER BY priority DESC, created_at ASC, id`
	case actions.OrderDueDate:
		q += ` ORDER BY due_date ASC NULLS LAST, id`
	default:
		q += ` ORDER BY created_at DESC, id`
	}
	q += limitOffset(&args, f.Limit, f.Offset)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]actions.ActionItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) TransitionActionItem(ctx context.Context, id string, to actions.Status, now time.Time) (actions.ActionItem, error) {
	var out actions.ActionItem
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		it, err := getItem(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next, changed, err := actions.ApplyTransition(it, to, now)
		if err != nil {
			return err
		}
		out = next
		if !changed {
			return nil
		}
		return updateItem(ctx, tx, next)
	})
	if err != nil {
		return actions.ActionItem{}, err
	}
	return out, nil
}

func (p *Postgres) UpdateActionItem(ctx context.Context, id string, patch actions.Patch, now time.Time) (actions.ActionItem, error) {
	var out actions.ActionItem
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		it, err := getItem(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next, err := actions.ApplyPatch(it, patch, now)
		if err != nil {
			return err
		}
		out = next
		return updateItem(ctx, tx, next)
	})
	if err != nil {
		return actions.ActionItem{}, err
	}
	return out, nil
}

func updateItem(ctx context.Context, tx *sql.Tx, it actions.ActionItem) error {
	const q = `
UPDATE action_items
SET assigned_to = $2, due_date = $3, status = $4, priority = $5, completed_at = $6, updated_at = $7
WHERE id = $1
`
	_, err := tx.ExecContext(ctx, q,
		it.ID,
		it.AssignedTo,
		nullTime(it.DueDate),
		it.Status,
		it.Priority,
		nullTime(it.CompletedAt),
		it.UpdatedAt,
	)
	return err
}

// --- KPIs ---

func (p *Postgres) ListCallFacts(ctx context.Context, from, to time.Time) ([]reporting.CallFact, error) {
	const q = `
SELECT c.id, c.start_time, c.direction, c.duration_seconds, c.recording_url <> '',
       COALESCE(s.transcript, '') <> '', COALESCE(s.sentiment, ''), s.urgency_score,
       COUNT(a.id), COUNT(a.id) FILTER (WHERE a.status = 'completed')
FROM calls c
LEFT JOIN call_summaries s ON s.call_id = c.id
LEFT JOIN action_items a ON a.call_id = c.id AND a.superseded_at IS NULL
WHERE c.start_time >= $1 AND c.start_time < $2
GROUP BY c.id, s.call_id
ORDER BY c.id
`
	rows, err := p.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]reporting.CallFact, 0)
	for rows.Next() {
		var f reporting.CallFact
		var urgency sql.NullInt64
		if err := rows.Scan(
			&f.CallID,
			&f.StartTime,
			&f.Direction,
			&f.DurationSeconds,
			&f.HasRecording,
			&f.Transcribed,
			&f.Sentiment,
			&urgency,
			&f.ActionItems,
			&f.CompletedActionItems,
		); err != nil {
			return nil, err
		}
		if urgency.Valid {
			u := int(urgency.Int64)
			f.UrgencyScore = &u
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const kpiColumns = `period_type, period_start, period_end, total_calls, inbound_calls, outbound_calls,
  calls_with_recording, calls_transcribed, total_duration_seconds, avg_duration_seconds,
  positive_sentiment, neutral_sentiment, negative_sentiment, avg_urgency_score,
  total_action_items, completed_action_items`

func scanKPI(r rowScanner) (reporting.KPI, error) {
	var k reporting.KPI
	var urgency sql.NullFloat64
	if err := r.Scan(
		&k.PeriodType,
		&k.PeriodStart,
		&k.PeriodEnd,
		&k.TotalCalls,
		&k.InboundCalls,
		&k.OutboundCalls,
		&k.CallsWithRecording,
		&k.CallsTranscribed,
		&k.TotalDurationSeconds,
		&k.AvgDurationSeconds,
		&k.PositiveSentiment,
		&k.NeutralSentiment,
		&k.NegativeSentiment,
		&urgency,
		&k.TotalActionItems,
		&k.CompletedActionItems,
	); err != nil {
		return reporting.KPI{}, err
	}
	if urgency.Valid {
		v := urgency.Float64
		k.AvgUrgencyScore = &v
	}
	return k, nil
}

func (p *Postgres) UpsertKPI(ctx context.Context, k reporting.KPI) (reporting.KPI, error) {
	const q = `
INSERT INTO kpis (` + kpiColumns + `, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now())
ON CONFLICT (period_type, period_start) DO UPDATE SET
  period_end = EXCLUDED.period_end,
  total_calls = EXCLUDED.total_calls,
  inbound_calls = EXCLUDED.inbound_calls,
  outbound_calls = EXCLUDED.outbound_calls,
  calls_with_recording = EXCLUDED.calls_with_recording,
  calls_transcribed = EXCLUDED.calls_transcribed,
  total_duration_seconds = EXCLUDED.total_duration_seconds,
  avg_duration_seconds = EXCLUDED.avg_duration_seconds,
  positive_sentiment = EXCLUDED.positive_sentiment,
  neutral_sentiment = EXCLUDED.neutral_sentiment,
  negative_sentiment = EXCLUDED.negative_sentiment,
  avg_urgency_score = EXCLUDED.avg_urgency_score,
  total_action_items = EXCLUDED.total_action_items,
  completed_action_items = EXCLUDED.completed_action_items,
  updated_at = EXCLUDED.updated_at
RETURNING ` + kpiColumns
	var urgency sql.NullFloat64
	if k.AvgUrgencyScore != nil {
		urgency = sql.NullFloat64{Float64: *k.AvgUrgencyScore, Valid: true}
	}
	return scanKPI(p.db.QueryRowContext(ctx, q,
		k.PeriodType,
		k.PeriodStart,
		k.PeriodEnd,
		k.TotalCalls,
		k.InboundCalls,
		k.OutboundCalls,
		k.CallsWithRecording,
		k.CallsTranscribed,
		k.TotalDurationSeconds,
		k.AvgDurationSeconds,
		k.PositiveSentiment,
		k.NeutralSentiment,
		k.NegativeSentiment,
		urgency,
		k.TotalActionItems,
		k.CompletedActionItems,
	))
}

func (p *Postgres) ListKPIs(ctx context.Context, periodType reporting.PeriodType, from, to time.Time) ([]reporting.KPI, error) {
	q := `SELECT ` + kpiColumns + `
FROM kpis
WHERE period_type = $1 AND period_start >= $2 AND period_start < $3
ORDER BY period_start`
	rows, err := p.db.QueryContext(ctx, q, periodType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]reporting.KPI, 0)
	for rows.Next() {
		k, err := scanKPI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// --- helpers ---

func execOne(ctx context.Context, q queryer, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return calls.ErrNotFound
	}
	return nil
}

func limitOffset(args *[]any, limit, offset int) string {
	out := ""
	if limit > 0 {
		*args = append(*args, limit)
		out += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		out += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func decodeList(raw []byte, out *[]string) error {
	*out = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
