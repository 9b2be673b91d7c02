package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voxnote/internal/models"
)

type OpenAI struct {
	client *openai.Client
	model  string
	sleep  func(time.Duration)
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewOpenAIWithConfig(config openai.ClientConfig, model string) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sleep:  time.Sleep,
	}
}

func (s *OpenAI) Summarize(ctx context.Context, text, language string, level models.SummaryLevel) (string, error) {
	if level == models.SummaryNone {
		return "", nil
	}
	if len(strings.Fields(text)) < 10 {
		// Too short to be worth a model call.
		return "", nil
	}

	prompts := promptFor(level, language)
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompts.system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompts.user + text,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return enforceShape(resp.Choices[0].Message.Content, level), nil
		}

		lastErr = err
		if attempt < len(backoff) {
			s.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("summary failed after retries: %w", lastErr)
}
