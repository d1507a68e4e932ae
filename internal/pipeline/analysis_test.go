package pipeline

import (
	"errors"
	"testing"
	"time"

	"call-insights/internal/actions"
	"call-insights/internal/calls"
)

func TestValidateAnalysis(t *testing.T) {
	valid := AnalysisResult{Sentiment: calls.SentimentNeutral, UrgencyScore: 3}

	cases := []struct {
		name string
		mut  func(r *AnalysisResult)
		ok   bool
	}{
		{"valid", func(r *AnalysisResult) {}, true},
		{"urgency low bound", func(r *AnalysisResult) { r.UrgencyScore = 1 }, true},
		{"urgency high bound", func(r *AnalysisResult) { r.UrgencyScore = 5 }, true},
		{"urgency zero", func(r *AnalysisResult) { r.UrgencyScore = 0 }, false},
		{"urgency six", func(r *AnalysisResult) { r.UrgencyScore = 6 }, false},
		{"bad sentiment", func(r *AnalysisResult) { r.Sentiment = "angry" }, false},
		{"empty description", func(r *AnalysisResult) { r.ActionItems = []ExtractedItem{{Description: "  "}} }, false},
		{"priority out of range", func(r *AnalysisResult) { r.ActionItems = []ExtractedItem{{Description: "x", Priority: 9}} }, false},
		{"absent priority", func(r *AnalysisResult) { r.ActionItems = []ExtractedItem{{Description: "x"}} }, true},
		{"bad due date", func(r *AnalysisResult) { r.ActionItems = []ExtractedItem{{Description: "x", DueDate: "next week"}} }, false},
		{"rfc3339 due date", func(r *AnalysisResult) { r.ActionItems = []ExtractedItem{{Description: "x", DueDate: "2024-01-02T15:04:05Z"}} }, true},
	}
	for _, tc := range cases {
		r := valid
		tc.mut(&r)
		err := ValidateAnalysis(r)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err: %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAnalysisResult) {
			t.Fatalf("%s: expected ErrInvalidAnalysisResult, got %v", tc.name, err)
		}
	}
}

func TestToActionItems_DefaultsAndTrims(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	n := 0
	newID := func() string { n++; return "id-" + string(rune('0'+n)) }

	items := toActionItems("call-1", AnalysisResult{ActionItems: []ExtractedItem{
		{Description: "  call back ", AssignedTo: " ana "},
		{Description: "ship", Priority: 1, DueDate: "2024-02-01"},
	}}, now, newID)

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Description != "call back" || items[0].AssignedTo != "ana" {
		t.Fatalf("expected trimmed fields: %+v", items[0])
	}
	if items[0].Priority != actions.DefaultPriority || items[0].Status != actions.StatusPending {
		t.Fatalf("expected default priority and pending: %+v", items[0])
	}
	if items[1].DueDate == nil || !items[1].DueDate.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date: %v", items[1].DueDate)
	}
	if items[0].ID == items[1].ID || items[0].CallID != "call-1" {
		t.Fatalf("unexpected ids: %+v", items)
	}
}
