package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"call-insights/internal/config"
	"call-insights/internal/pipeline"
)

const (
	defaultModel              = "gpt-4o"
	defaultTranscriptionModel = "whisper-1"
)

var ErrNotConfigured = errors.New("ai: api key required")

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type audioTranscriptions interface {
	New(ctx context.Context, params openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// New builds the OpenAI-backed transcriber and analyzer sharing one client.
func New(cfg config.OpenAIConfig) (*Transcriber, *Analyzer, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, nil, ErrNotConfigured
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// RetryPolicy owns retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	t := &Transcriber{
		audio: &client.Audio.Transcriptions,
		model: orDefault(cfg.TranscriptionModel, defaultTranscriptionModel),
	}
	a := &Analyzer{
		chat:        &client.Chat.Completions,
		model:       orDefault(cfg.Model, defaultModel),
		temperature: cfg.Temperature,
	}
	return t, a, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// classify maps an SDK error onto the pipeline's retry semantics:
// 429 and 5xx are transient, other API statuses are permanent, and
// transport failures are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		// openai.Error renders its request; keep only the status.
		e := fmt.Errorf("%s: openai status %d", op, apiErr.StatusCode)
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return pipeline.Transient(e)
		}
		return pipeline.Permanent(e)
	}
	return pipeline.Transient(fmt.Errorf("%s: %w", op, err))
}
