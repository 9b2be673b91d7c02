package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxnote/internal/common/logger"
	"voxnote/internal/models"
)

var ErrTranscriptNotFound = errors.New("TRANSCRIPT_NOT_FOUND")

// TranscriptStore persists processed voice notes. The inbound message id
// carries a unique constraint; Create is the idempotence gate for the whole
// pipeline.
type TranscriptStore struct {
	db  *sql.DB
	log logger.Logger
}

func NewTranscriptStore(db *sql.DB, log logger.Logger) *TranscriptStore {
	return &TranscriptStore{
		db:  db,
		log: log.WithFields(map[string]interface{}{"component": "transcripts"}),
	}
}

// Create inserts a pending transcript for an inbound message. It returns
// false with no error when a row for the same message id already exists,
// which means a retried delivery must not be processed again.
func (s *TranscriptStore) Create(ctx context.Context, t *models.Transcript) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TranscriptPending
	}
	t.CreatedAt = time.Now().UTC()

	query := `INSERT INTO transcripts
		(id, user_id, message_id, sender, chat_id, sent_at, mime_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.MessageID, t.Sender, t.ChatID, t.SentAt, t.MimeType, t.Status, t.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("transcript insert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transcript insert result: %w", err)
	}
	return affected == 1, nil
}

// MarkProcessing moves a pending transcript into processing.
func (s *TranscriptStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET status = $2 WHERE id = $1`,
		id, models.TranscriptProcessing,
	)
	if err != nil {
		return fmt.Errorf("transcript mark processing: %w", err)
	}
	return nil
}

// Complete writes the terminal completed state with the full result. The
// row is immutable afterwards.
func (s *TranscriptStore) Complete(ctx context.Context, t *models.Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("transcript segments marshal: %w", err)
	}

	query := `UPDATE transcripts SET
		text = $2, summary = $3, seconds = $4, language = $5, confidence = $6,
		segments = $7, cost = $8, status = $9
		WHERE id = $1`
	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.Text, t.Summary, t.Seconds, t.Language, t.Confidence,
		segments, t.Cost, models.TranscriptCompleted,
	)
	if err != nil {
		return fmt.Errorf("transcript complete: %w", err)
	}
	return nil
}

// Fail writes the terminal failed state with the error detail.
func (s *TranscriptStore) Fail(ctx context.Context, id, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET status = $2, error = $3 WHERE id = $1`,
		id, models.TranscriptFailed, detail,
	)
	if err != nil {
		return fmt.Errorf("transcript fail: %w", err)
	}
	return nil
}

// Reclaim atomically takes over a previously failed transcript so a bounded
// outer retry can reprocess it. Completed rows are never reclaimed; that is
// what makes the message id a safe dedup key.
func (s *TranscriptStore) Reclaim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET status = $2, error = '' WHERE id = $1 AND status = $3`,
		id, models.TranscriptProcessing, models.TranscriptFailed,
	)
	if err != nil {
		return false, fmt.Errorf("transcript reclaim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transcript reclaim result: %w", err)
	}
	return affected == 1, nil
}

// Delete removes a transcript row. Used only to roll back the dedup claim
// when processing aborts before any billable work happened.
func (s *TranscriptStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("transcript delete: %w", err)
	}
	return nil
}

// GetByMessageID loads a transcript by its inbound message id. Result
// columns are NULL until Complete runs, so a pending or failed row must
// still load cleanly for the reclaim path.
func (s *TranscriptStore) GetByMessageID(ctx context.Context, messageID string) (*models.Transcript, error) {
	var (
		t          models.Transcript
		text       sql.NullString
		summary    sql.NullString
		seconds    sql.NullFloat64
		language   sql.NullString
		confidence sql.NullFloat64
		segments   []byte
		cost       sql.NullFloat64
		errText    sql.NullString
	)

	query := `SELECT id, user_id, message_id, text, summary, seconds, language, confidence,
		segments, sender, chat_id, sent_at, cost, mime_type, status, error, created_at
		FROM transcripts WHERE message_id = $1`
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&t.ID, &t.UserID, &t.MessageID, &text, &summary, &seconds, &language, &confidence,
		&segments, &t.Sender, &t.ChatID, &t.SentAt, &cost, &t.MimeType, &t.Status, &errText, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("transcript query: %w", err)
	}

	t.Text = text.String
	t.Seconds = seconds.Float64
	t.Language = language.String
	t.Confidence = confidence.Float64
	t.Cost = cost.Float64
	if summary.Valid {
		t.Summary = summary.String
	}
	if errText.Valid {
		t.Error = errText.String
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &t.Segments); err != nil {
			s.log.Warn("transcript segments unmarshal failed", map[string]interface{}{
				"transcriptId": t.ID,
				"error":        err.Error(),
			})
		}
	}
	return &t, nil
}
