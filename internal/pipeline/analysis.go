package pipeline

import (
	"fmt"
	"strings"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
)

// AnalysisResult is what an Analyzer extracts from a transcript.
type AnalysisResult struct {
	Summary              string          `json:"summary"`
	Sentiment            calls.Sentiment `json:"sentiment"`
	UrgencyScore         int             `json:"urgency_score"`
	KeyTopics            []string        `json:"key_topics"`
	NextSteps            []string        `json:"next_steps"`
	CustomerSatisfaction string          `json:"customer_satisfaction"`
	ActionItems          []ExtractedItem `json:"action_items"`
}

// ExtractedItem is one action item proposed by the analyzer.
// Priority 0 means absent and defaults to actions.DefaultPriority.
type ExtractedItem struct {
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// ValidateAnalysis checks r against the domain bounds. Every violation wraps
// ErrInvalidAnalysisResult.
func ValidateAnalysis(r AnalysisResult) error {
	if !r.Sentiment.Valid() {
		return fmt.Errorf("%w: sentiment %q", ErrInvalidAnalysisResult, r.Sentiment)
	}
	if r.UrgencyScore < calls.MinUrgency || r.UrgencyScore > calls.MaxUrgency {
		return fmt.Errorf("%w: urgency_score %d out of range", ErrInvalidAnalysisResult, r.UrgencyScore)
	}
	for i, it := range r.ActionItems {
		if strings.TrimSpace(it.Description) == "" {
			return fmt.Errorf("%w: action_items[%d] has empty description", ErrInvalidAnalysisResult, i)
		}
		if it.Priority != 0 && (it.Priority < actions.MinPriority || it.Priority > actions.MaxPriority) {
			return fmt.Errorf("%w: action_items[%d] priority %d out of range", ErrInvalidAnalysisResult, i, it.Priority)
		}
		if it.DueDate != "" {
			if _, ok := parseDueDate(it.DueDate); !ok {
				return fmt.Errorf("%w: action_items[%d] due_date %q", ErrInvalidAnalysisResult, i, it.DueDate)
			}
		}
	}
	return nil
}

// toActionItems builds pending items for callID. r must be validated.
func toActionItems(callID string, r AnalysisResult, now time.Time, newID func() string) []actions.ActionItem {
	out := make([]actions.ActionItem, 0, len(r.ActionItems))
	for _, it := range r.ActionItems {
		item := actions.ActionItem{
			ID:          newID(),
			CallID:      callID,
			Description: strings.TrimSpace(it.Description),
			AssignedTo:  strings.TrimSpace(it.AssignedTo),
			Status:      actions.StatusPending,
			Priority:    it.Priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if item.Priority == 0 {
			item.Priority = actions.DefaultPriority
		}
		if d, ok := parseDueDate(it.DueDate); ok {
			item.DueDate = &d
		}
		out = append(out, item)
	}
	return out
}

func toAnalysis(r AnalysisResult, now time.Time) calls.Analysis {
	return calls.Analysis{
		Summary:              r.Summary,
		Sentiment:            r.Sentiment,
		UrgencyScore:         r.UrgencyScore,
		KeyTopics:            r.KeyTopics,
		NextSteps:            r.NextSteps,
		CustomerSatisfaction: r.CustomerSatisfaction,
		CompletedAt:          now,
	}
}

// parseDueDate accepts RFC3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseDueDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
