package transcribe

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"voxnote/internal/models"
)

// OpenAI transcribes audio through the Whisper API with verbose JSON output
// so segment timings come back alongside the text.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewOpenAIWithConfig(config openai.ClientConfig, model string) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, audioPath, languageHint string) (*Result, error) {
	req := openai.AudioRequest{
		Model:    o.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if languageHint != "" {
		req.Language = languageHint
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Seconds:  resp.Duration,
	}

	segments := make([]models.Segment, 0, len(resp.Segments))
	var logprobSum float64
	for _, s := range resp.Segments {
		segments = append(segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
		logprobSum += s.AvgLogprob
	}
	result.Segments = segments

	// Whisper reports per-segment average logprobs, not a confidence
	// figure; fold them into a rough 0..1 score.
	if len(resp.Segments) > 0 {
		avg := logprobSum / float64(len(resp.Segments))
		conf := 1.0 + avg // logprobs are <= 0; -0.2 becomes 0.8
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		result.Confidence = conf
	}

	return result, nil
}
