package store

import (
	"fmt"
	"time"

	"call-insights/internal/calls"
)

var (
	// ErrNotFound is the store-level not-found sentinel; it is the same value
	// as calls.ErrNotFound so callers can test either.
	ErrNotFound = calls.ErrNotFound
)

// applySummaryStage mutates the summary and call for one pipeline stage write.
// The call state moves with the stage so a crash never leaves them disagreeing.
func applySummaryStage(s *calls.Summary, c *calls.Call, stage calls.SummaryStage, transcript string, at time.Time) error {
	t := at
	switch stage {
	case calls.SummaryTranscriptionStarted:
		resetSummary(s)
		s.TranscriptionStartedAt = &t
		c.State = calls.StateTranscribing
	case calls.SummaryTranscriptionCompleted:
		s.Transcript = transcript
		s.TranscriptionCompletedAt = &t
	case calls.SummaryAnalysisStarted:
		s.AnalysisStartedAt = &t
		c.State = calls.StateAnalyzing
	default:
		return fmt.Errorf("store: unknown summary stage %q", stage)
	}
	return nil
}

// resetSummary drops everything a previous run produced. A new run starts
// from transcription, so nothing later may survive it.
func resetSummary(s *calls.Summary) {
	s.Transcript = ""
	s.Summary = ""
	s.Sentiment = ""
	s.UrgencyScore = nil
	s.KeyTopics = []string{}
	s.NextSteps = []string{}
	s.CustomerSatisfaction = ""
	s.TranscriptionCompletedAt = nil
	s.AnalysisStartedAt = nil
	s.AnalysisCompletedAt = nil
}

func applyAnalysis(s *calls.Summary, a calls.Analysis) {
	t := a.CompletedAt
	u := a.UrgencyScore
	s.Summary = a.Summary
	s.Sentiment = a.Sentiment
	s.UrgencyScore = &u
	s.KeyTopics = nonNil(a.KeyTopics)
	s.NextSteps = nonNil(a.NextSteps)
	s.CustomerSatisfaction = a.CustomerSatisfaction
	s.AnalysisCompletedAt = &t
	s.UpdatedAt = t
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
