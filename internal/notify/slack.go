package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"call-insights/internal/calls"
)

const maxSlackItems = 5

// SlackSink posts Block Kit messages to an incoming webhook.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSink(webhookURL string, client *http.Client) *SlackSink {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SlackSink{webhookURL: webhookURL, client: client}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(SlackMessage(e))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

// SlackMessage renders the webhook body for e.
func SlackMessage(e Event) map[string]any {
	c := e.Call
	md := func(label, value string) slackText {
		return slackText{Type: "mrkdwn", Text: "*" + label + ":*\n" + value}
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Call Summary - " + callerLabel(c)}},
		{Type: "section", Fields: []slackText{
			md("Call ID", c.ProviderCallID),
			md("Direction", titleCase(string(c.Direction))),
			md("Duration", fmt.Sprintf("%dm %ds", c.DurationSeconds/60, c.DurationSeconds%60)),
			md("Time", c.StartTime.UTC().Format("2006-01-02 15:04")),
		}},
	}

	if c.NoRecording {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "_No recording was available for this call._"}})
		return map[string]any{"blocks": blocks}
	}

	blocks = append(blocks,
		slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*Summary:*\n" + e.Summary.Summary}},
		slackBlock{Type: "section", Fields: []slackText{
			md("Sentiment", sentimentEmoji(e.Summary.Sentiment)+" "+titleCase(string(e.Summary.Sentiment))),
			md("Urgency", urgencyLabel(e.Summary.UrgencyScore)),
		}},
	)

	if n := len(e.ActionItems); n > 0 {
		var b strings.Builder
		for i, it := range e.ActionItems {
			if i == maxSlackItems {
				break
			}
			fmt.Fprintf(&b, "• %s (Priority: %d/5)\n", it.Description, it.Priority)
		}
		if n > maxSlackItems {
			fmt.Fprintf(&b, "_...and %d more_", n-maxSlackItems)
		}
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*Action Items (%d):*\n%s", n, strings.TrimRight(b.String(), "\n")),
		}})
	}
	return map[string]any{"blocks": blocks}
}

func sentimentEmoji(s calls.Sentiment) string {
	switch s {
	case calls.SentimentPositive:
		return ":smile:"
	case calls.SentimentNeutral:
		return ":neutral_face:"
	case calls.SentimentNegative:
		return ":disappointed:"
	default:
		return ":question:"
	}
}

func urgencyLabel(score *int) string {
	if score == nil {
		return "n/a"
	}
	if *score < calls.MinUrgency || *score > calls.MaxUrgency {
		return fmt.Sprintf("%d/5", *score)
	}
	return fmt.Sprintf("%s%s %d/5", strings.Repeat("●", *score), strings.Repeat("○", calls.MaxUrgency-*score), *score)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
