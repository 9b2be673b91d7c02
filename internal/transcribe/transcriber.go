package transcribe

import (
	"context"

	"voxnote/internal/models"
)

// Result is what the transcription collaborator returns for one audio file.
type Result struct {
	Text       string
	Language   string
	Seconds    float64
	Confidence float64
	Segments   []models.Segment
}

// Transcriber converts an audio file into text. Implementations are
// stateless request/response clients; the pipeline owns retries and quota.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (*Result, error)
}
