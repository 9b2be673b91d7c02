package models

import "time"

// TranscriptStatus is the lifecycle state of a processed voice note.
type TranscriptStatus string

const (
	TranscriptPending    TranscriptStatus = "pending"
	TranscriptProcessing TranscriptStatus = "processing"
	TranscriptCompleted  TranscriptStatus = "completed"
	TranscriptFailed     TranscriptStatus = "failed"
)

// Segment is one timed slice of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the durable result of one voice note. MessageID is the
// unique inbound-message id; a retried delivery of the same message must
// never produce a second row.
type Transcript struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	MessageID  string           `json:"messageId"`
	Text       string           `json:"text"`
	Summary    string           `json:"summary,omitempty"`
	Seconds    float64          `json:"seconds"`
	Language   string           `json:"language"`
	Confidence float64          `json:"confidence"`
	Segments   []Segment        `json:"segments,omitempty"`
	Sender     string           `json:"sender"`
	ChatID     string           `json:"chatId"`
	SentAt     time.Time        `json:"sentAt"`
	Cost       float64          `json:"cost"`
	MimeType   string           `json:"mimeType"`
	Status     TranscriptStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}
