package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"call-insights/internal/pipeline"
)

// Transcriber turns a downloaded recording into text.
type Transcriber struct {
	audio audioTranscriptions
	model string
}

func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", pipeline.Permanent(fmt.Errorf("open recording: %w", err))
		}
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	res, err := t.audio.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", classify("transcribe", err)
	}
	if res == nil {
		return "", pipeline.Transient(errors.New("transcribe: empty response"))
	}
	return strings.TrimSpace(res.Text), nil
}
