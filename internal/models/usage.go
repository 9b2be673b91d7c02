package models

import "time"

// Usage is one ledger row: consumption for a (user, calendar month) pair.
// Rows are created lazily on first consumption in a month; increments are
// atomic at the store layer, never read-modify-write in the application.
type Usage struct {
	UserID             string    `json:"userId"`
	Month              string    `json:"month"` // "YYYY-MM"
	TranscriptionCount int       `json:"transcriptionCount"`
	SecondsUsed        float64   `json:"secondsUsed"`
	TranscriptionCost  float64   `json:"transcriptionCost"`
	SummaryCount       int       `json:"summaryCount"`
	SummaryCost        float64   `json:"summaryCost"`
	NotifiedAt80       bool      `json:"notifiedAt80"`
	NotifiedAt100      bool      `json:"notifiedAt100"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// MinutesUsed converts the running seconds counter to minutes.
func (u *Usage) MinutesUsed() float64 {
	return u.SecondsUsed / 60.0
}

// UsageDetail is one immutable audit record appended per billed operation.
type UsageDetail struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Month        string    `json:"month"`
	Kind         string    `json:"kind"` // "transcription" or "summary"
	TranscriptID string    `json:"transcriptId"`
	Seconds      float64   `json:"seconds"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"createdAt"`
}

// MonthKey formats t as the ledger month key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
