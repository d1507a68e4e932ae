package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"call-insights/internal/pipeline"
)

const analyzeTool = "analyze_call"

const systemPrompt = `You are an expert call analyst for a business. Analyze the call transcript and report:

1. summary: 2-3 sentences covering the purpose and outcome of the call.
2. key_topics: the 3-5 main topics discussed.
3. action_items: concrete tasks or commitments, each with a description, the person responsible if mentioned, a priority (1=low, 5=critical) and a due date (YYYY-MM-DD) if mentioned.
4. sentiment: positive, neutral or negative.
5. urgency_score: 1 (routine) to 5 (requires immediate action).
6. customer_satisfaction: a short assessment of how satisfied the customer seems.
7. next_steps: recommended follow-up activities.

Be objective and focus on actionable insights.`

var analyzeParameters = shared.FunctionParameters{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"description": "2-3 sentence summary of the call",
		},
		"key_topics": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Main topics discussed (3-5 items)",
		},
		"action_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"assigned_to": map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"due_date":    map[string]any{"type": "string", "description": "YYYY-MM-DD or RFC3339"},
				},
				"required": []string{"description"},
			},
		},
		"sentiment": map[string]any{
			"type": "string",
			"enum": []string{"positive", "neutral", "negative"},
		},
		"urgency_score": map[string]any{
			"type":    "integer",
			"minimum": 1,
			"maximum": 5,
		},
		"customer_satisfaction": map[string]any{"type": "string"},
		"next_steps": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"summary", "key_topics", "sentiment", "urgency_score"},
}

// Analyzer extracts a structured AnalysisResult from a transcript using
// function calling.
type Analyzer struct {
	chat        chatCompletions
	model       string
	temperature float64
}

func (a *Analyzer) Analyze(ctx context.Context, transcript string) (pipeline.AnalysisResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Call transcript:\n" + transcript),
		},
		Tools: []openai.ChatCompletionToolParam{{
			Function: shared.FunctionDefinitionParam{
				Name:        analyzeTool,
				Description: openai.Opt("Analyze a call transcript and extract structured information"),
				Parameters:  analyzeParameters,
			},
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: analyzeTool},
			},
		},
		Temperature: openai.Float(a.temperature),
	}

	completion, err := a.chat.New(ctx, params)
	if err != nil {
		return pipeline.AnalysisResult{}, classify("analyze", err)
	}
	args, err := toolArguments(completion)
	if err != nil {
		return pipeline.AnalysisResult{}, err
	}

	var out pipeline.AnalysisResult
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return pipeline.AnalysisResult{}, fmt.Errorf("%w: decode arguments: %v", pipeline.ErrInvalidAnalysisResult, err)
	}
	out.Sentiment = normalizeSentiment(out.Sentiment)
	return out, nil
}

func toolArguments(c *openai.ChatCompletion) (string, error) {
	if c == nil || len(c.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", pipeline.ErrInvalidAnalysisResult)
	}
	for _, call := range c.Choices[0].Message.ToolCalls {
		if call.Function.Name == analyzeTool {
			return call.Function.Arguments, nil
		}
	}
	return "", fmt.Errorf("%w: %s not called", pipeline.ErrInvalidAnalysisResult, analyzeTool)
}

func normalizeSentiment[S ~string](s S) S {
	return S(strings.ToLower(strings.TrimSpace(string(s))))
}
