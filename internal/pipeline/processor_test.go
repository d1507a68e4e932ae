package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights/internal/actions"
	"call-insights/internal/audit"
	"call-insights/internal/calls"
	"call-insights/internal/notify"
	"call-insights/internal/reporting"
	"call-insights/internal/store"
	"call-insights/internal/telephony"
)

var t0 = time.Unix(1700000000, 0).UTC()

type fakeDownloader struct {
	dir   string
	calls atomic.Int32
	err   error
	paths []string
	mu    sync.Mutex
}

func (d *fakeDownloader) Download(ctx context.Context, url string) (string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return "", d.err
	}
	f, err := os.CreateTemp(d.dir, "rec-*.mp3")
	if err != nil {
		return "", err
	}
	_, _ = f.WriteString("audio")
	_ = f.Close()
	d.mu.Lock()
	d.paths = append(d.paths, f.Name())
	d.mu.Unlock()
	return f.Name(), nil
}

type fakeTranscriber struct {
	calls atomic.Int32
	text  string
	errs  []error // consumed per call; nil entries succeed
	block bool
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	n := int(t.calls.Add(1))
	if t.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n <= len(t.errs) && t.errs[n-1] != nil {
		return "", t.errs[n-1]
	}
	if _, err := os.Stat(path); err != nil {
		return "", Permanent(err)
	}
	return t.text, nil
}

type fakeAnalyzer struct {
	calls  atomic.Int32
	result AnalysisResult
	err    error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, transcript string) (AnalysisResult, error) {
	a.calls.Add(1)
	if a.err != nil {
		return AnalysisResult{}, a.err
	}
	return a.result, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type harness struct {
	store  *store.Memory
	dl     *fakeDownloader
	tr     *fakeTranscriber
	an     *fakeAnalyzer
	pub    *recordingPublisher
	audits *audit.MemoryRepo
	delays []time.Duration
	proc   *Processor
	pool   *Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemory(),
		dl:     &fakeDownloader{dir: t.TempDir()},
		tr:     &fakeTranscriber{text: "Hi, this is Acme. Please send the quote by Friday."},
		an:     &fakeAnalyzer{result: call100Analysis()},
		pub:    &recordingPublisher{},
		audits: audit.NewMemoryRepo(),
	}
	var mu sync.Mutex
	retry := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			h.delays = append(h.delays, d)
			mu.Unlock()
			return ctx.Err()
		},
	}
	auditSvc := audit.NewService(h.audits)
	h.proc = NewProcessor(h.store, Deps{
		Downloader:  h.dl,
		Transcriber: h.tr,
		Analyzer:    h.an,
		Publisher:   h.pub,
		Auditor:     auditSvc,
	}, retry, Timeouts{Download: time.Second, Transcribe: time.Second, Analyze: time.Second, Notify: time.Second})
	h.pool = NewPool(h.store, h.proc, auditSvc, PoolConfig{Workers: 2, BatchSize: 10, PollInterval: 10 * time.Millisecond, ClaimTTL: time.Minute}, nil)
	return h
}

func call100Analysis() AnalysisResult {
	return AnalysisResult{
		Summary:              "Acme requested a quote for 50 seats.",
		Sentiment:            calls.SentimentPositive,
		UrgencyScore:         4,
		KeyTopics:            []string{"pricing", "seats"},
		NextSteps:            []string{"send quote"},
		CustomerSatisfaction: "satisfied",
		ActionItems: []ExtractedItem{
			{Description: "Send quote for 50 seats", AssignedTo: "sales", DueDate: "2023-11-17", Priority: 5},
			{Description: "Schedule onboarding call"},
		},
	}
}

func (h *harness) ingest(t *testing.T, providerID, recordingURL string) calls.Call {
	t.Helper()
	id := "call-" + providerID
	c := calls.Call{
		ID:                id,
		ProviderCallID:    providerID,
		Direction:         calls.DirectionInbound,
		CallerName:        "Acme",
		StartTime:         t0,
		DurationSeconds:   180,
		RecordingURL:      recordingURL,
		State:             calls.StateReceived,
		WebhookReceivedAt: t0,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	task := calls.Task{ID: "task-" + providerID, CallID: id, Reason: calls.TaskReasonWebhook, Status: calls.TaskStatusQueued, CreatedAt: t0}
	_, created, err := h.store.CreateCallIfAbsent(context.Background(), c, task)
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestPipeline_Call100EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.ingest(t, "CALL-100", "https://recordings.example/CALL-100.mp3")

	n, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := h.store.GetCall(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StateCompleted, got.State)
	assert.True(t, got.RecordingDownloaded)
	assert.Empty(t, got.RecordingPath, "path cleared once the file is removed")
	assert.Empty(t, got.FailedStage)

	s, err := h.store.GetSummary(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, h.tr.text, s.Transcript)
	assert.Equal(t, calls.SentimentPositive, s.Sentiment)
	require.NotNil(t, s.UrgencyScore)
	assert.Equal(t, 4, *s.UrgencyScore)
	assert.Equal(t, []string{"pricing", "seats"}, s.KeyTopics)
	require.NotNil(t, s.TranscriptionStartedAt)
	require.NotNil(t, s.TranscriptionCompletedAt)
	require.NotNil(t, s.AnalysisStartedAt)
	require.NotNil(t, s.AnalysisCompletedAt)
	assert.False(t, s.TranscriptionCompletedAt.Before(*s.TranscriptionStartedAt))
	assert.False(t, s.AnalysisStartedAt.Before(*s.TranscriptionCompletedAt))
	assert.False(t, s.AnalysisCompletedAt.Before(*s.AnalysisStartedAt))

	items, err := h.store.ListActionItems(ctx, actions.Filter{CallID: c.ID, Order: actions.OrderPriority})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 5, items[0].Priority)
	assert.Equal(t, "sales", items[0].AssignedTo)
	require.NotNil(t, items[0].DueDate)
	assert.Equal(t, actions.DefaultPriority, items[1].Priority)
	for _, it := range items {
		assert.Equal(t, actions.StatusPending, it.Status)
	}

	events := h.pub.Events()
	require.Len(t, events, 1, "exactly one notification")
	assert.Equal(t, "CALL-100", events[0].Call.ProviderCallID)
	assert.Len(t, events[0].ActionItems, 2)

	for _, p := range h.dl.paths {
		_, err := os.Stat(p)
		assert.True(t, errors.Is(err, os.ErrNotExist), "recording removed after processing")
	}
	for _, task := range h.store.Tasks() {
		assert.Equal(t, calls.TaskStatusDone, task.Status)
	}
	assert.Equal(t, int32(1), h.tr.calls.Load())
	assert.Empty(t, h.delays)
}

func TestPipeline_RetryExhaustionExactAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boom := Transient(errors.New("upstream 503"))
	h.tr.errs = []error{boom, boom, boom, boom}
	c := h.ingest(t, "CALL-200", "https://recordings.example/CALL-200.mp3")

	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(3), h.tr.calls.Load(), "exactly MaxAttempts invocations")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.delays)

	got, err := h.store.GetCall(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StateFailed, got.State)
	assert.Equal(t, calls.StageTranscribing, got.FailedStage)
	assert.Contains(t, got.FailureReason, "transient_io")
	assert.Equal(t, int32(0), h.an.calls.Load())
	assert.Empty(t, h.pub.Events(), "no notification for failed calls")
	assert.Len(t, h.audits.ByType(audit.EventTypePipelineFailed), 1)
}

func TestPipeline_RecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tr.errs = []error{Transient(errors.New("reset"))}
	c := h.ingest(t, "CALL-201", "https://recordings.example/CALL-201.mp3")

	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	got, _ := h.store.GetCall(ctx, c.ID)
	assert.Equal(t, calls.StateCompleted, got.State)
	assert.Equal(t, int32(2), h.tr.calls.Load())
}

func TestPipeline_InvalidUrgencyIsNotRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.an.result.UrgencyScore = 7
	c := h.ingest(t, "CALL-300", "https://recordings.example/CALL-300.mp3")

	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.an.calls.Load())
	got, _ := h.store.GetCall(ctx, c.ID)
	assert.Equal(t, calls.StateFailed, got.State)
	assert.Equal(t, calls.StageAnalyzing, got.FailedStage)
	assert.Contains(t, got.FailureReason, "invalid_analysis_result")

	items, err := h.store.ListActionItems(ctx, actions.Filter{CallID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
	s, err := h.store.GetSummary(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, s.UrgencyScore)
}

func TestPipeline_NoRecordingCompletesAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.ingest(t, "CALL-400", "")

	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	got, _ := h.store.GetCall(ctx, c.ID)
	assert.Equal(t, calls.StateCompleted, got.State)
	assert.True(t, got.NoRecording)
	assert.Equal(t, int32(0), h.dl.calls.Load())
	events := h.pub.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Call.NoRecording)
}

func TestPipeline_NotificationFailureKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pub.err = errors.New("slack down")
	c := h.ingest(t, "CALL-500", "https://recordings.example/CALL-500.mp3")

	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	got, _ := h.store.GetCall(ctx, c.ID)
	assert.Equal(t, calls.StateCompleted, got.State)
	assert.Len(t, h.audits.ByType(audit.EventTypeNotificationFailed), 1)
}

func TestPipeline_ReprocessSupersedesItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.ingest(t, "CALL-600", "https://recordings.example/CALL-600.mp3")
	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	first, err := h.store.ListActionItems(ctx, actions.Filter{CallID: c.ID})
	require.NoError(t, err)
	require.Len(t, first, 2)

	h.an.result.ActionItems = []ExtractedItem{{Description: "Send revised quote", Priority: 4}}
	task, err := h.pool.Reprocess(ctx, Actor{UserID: "op-1", Role: "operator"}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.TaskReasonReprocess, task.Reason)

	// in flight until the task runs
	_, err = h.pool.Reprocess(ctx, Actor{UserID: "op-1", Role: "operator"}, c.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.pool.RunOnce(ctx)
	require.NoError(t, err)

	live, err := h.store.ListActionItems(ctx, actions.Filter{CallID: c.ID})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Send revised quote", live[0].Description)

	all, err := h.store.ListActionItems(ctx, actions.Filter{CallID: c.ID, IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Len(t, h.audits.ByType(audit.EventTypeCallReprocessed), 1)
	assert.Len(t, h.pub.Events(), 2)
}

func TestPipeline_FailedReprocessDropsPreviousAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.ingest(t, "CALL-610", "https://recordings.example/CALL-610.mp3")
	_, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)

	done, err := h.store.GetSummary(ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, done.Transcript)
	require.NotNil(t, done.UrgencyScore)

	// first transcription succeeded; the rerun's fails for good
	h.tr.errs = []error{nil, Permanent(errors.New("unsupported codec"))}
	_, err = h.pool.Reprocess(ctx, Actor{UserID: "op-1", Role: "operator"}, c.ID)
	require.NoError(t, err)
	_, err = h.pool.RunOnce(ctx)
	require.NoError(t, err)

	got, err := h.store.GetCall(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StateFailed, got.State)
	assert.Equal(t, calls.StageTranscribing, got.FailedStage)
	assert.Empty(t, got.RecordingPath)

	s, err := h.store.GetSummary(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, s.Transcript)
	assert.Empty(t, s.Summary)
	assert.Empty(t, s.Sentiment)
	assert.Nil(t, s.UrgencyScore)
	assert.Empty(t, s.KeyTopics)
	assert.Empty(t, s.NextSteps)
	require.NotNil(t, s.TranscriptionStartedAt)
	assert.Nil(t, s.TranscriptionCompletedAt)
	assert.Nil(t, s.AnalysisStartedAt)
	assert.Nil(t, s.AnalysisCompletedAt)

	engine := reporting.NewEngine(h.store, reporting.NewCalendar(time.UTC, time.Monday))
	k, err := engine.Recompute(ctx, reporting.PeriodDaily, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, k.TotalCalls)
	assert.Equal(t, 0, k.CallsTranscribed)
	assert.Equal(t, 0, k.PositiveSentiment)
	assert.Nil(t, k.AvgUrgencyScore)
	// live items stay until a later analysis supersedes them
	assert.Equal(t, 2, k.TotalActionItems)
}

func TestPipeline_WebhookToDailyKPI(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.an.result.ActionItems = []ExtractedItem{{Description: "Call Acme back", Priority: 3}}

	const secret = "hook-secret"
	gate := telephony.NewGate(secret, h.store, h.pool)
	raw := []byte(`{"event_type":"call.ended","data":{"call_id":"CALL-100","direction":"inbound",` +
		`"start_time":"2025-01-01T10:00:00Z","duration":120,"recording_url":"https://recordings.example/CALL-100.mp3"}}`)
	sig := telephony.Sign(secret, raw)

	for i := 0; i < 5; i++ {
		res, err := gate.Receive(ctx, raw, sig)
		require.NoError(t, err)
		want := telephony.OutcomeDuplicate
		if i == 0 {
			want = telephony.OutcomeAccepted
		}
		assert.Equal(t, want, res.Outcome, "delivery %d", i)
		assert.Equal(t, "CALL-100", res.CallID)
	}
	tasks := h.store.Tasks()
	require.Len(t, tasks, 1)

	n, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.store.GetCall(ctx, tasks[0].CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.StateCompleted, got.State)
	assert.Equal(t, 120, got.DurationSeconds)

	items, err := h.store.ListActionItems(ctx, actions.Filter{CallID: got.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, actions.StatusPending, items[0].Status)

	engine := reporting.NewEngine(h.store, reporting.NewCalendar(time.UTC, time.Monday))
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		k, err := engine.Recompute(ctx, reporting.PeriodDaily, day)
		require.NoError(t, err)
		assert.Equal(t, 1, k.TotalCalls)
		assert.Equal(t, 1, k.InboundCalls)
		assert.Equal(t, 1, k.CallsWithRecording)
		assert.Equal(t, 1, k.CallsTranscribed)
		assert.Equal(t, 120, k.TotalDurationSeconds)
		assert.Equal(t, 1, k.TotalActionItems)
	}
	assert.Equal(t, 1, h.store.KPICount())
}

func TestPipeline_CancellationLeavesTaskClaimed(t *testing.T) {
	h := newHarness(t)
	h.tr.block = true
	c := h.ingest(t, "CALL-700", "https://recordings.example/CALL-700.mp3")

	ctx, cancel := context.WithCancel(context.Background())
	tasks, err := h.store.ClaimTasks(ctx, 1, t0, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	done := make(chan error, 1)
	go func() { done <- h.proc.Run(ctx, tasks[0]) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	got, _ := h.store.GetCall(context.Background(), c.ID)
	assert.NotEqual(t, calls.StateFailed, got.State)
	assert.Equal(t, calls.TaskStatusClaimed, h.store.Tasks()[0].Status)
}

func TestPool_RunWakesOnIngest(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go h.pool.Run(ctx)

	c := h.ingest(t, "CALL-800", "https://recordings.example/CALL-800.mp3")
	h.pool.Wake()

	require.Eventually(t, func() bool {
		got, err := h.store.GetCall(context.Background(), c.ID)
		return err == nil && got.State == calls.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	require.NoError(t, h.pool.Shutdown(sctx))
	require.Eventually(t, func() bool {
		return h.store.Tasks()[0].Status == calls.TaskStatusDone
	}, time.Second, 5*time.Millisecond)
}

func TestHTTPDownloader_ExtensionDefaults(t *testing.T) {
	assert.Equal(t, ".wav", extension("https://x/y/rec.WAV?sig=1"))
	assert.Equal(t, ".mp3", extension("https://x/y/rec"))
}
