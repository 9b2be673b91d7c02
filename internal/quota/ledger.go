// Package quota is the single source of truth for monthly consumption.
// Ledger rows are keyed by (user, month); commits are atomic SQL upsert
// increments, never application-level read-modify-write, so two worker
// processes can bill concurrently without losing a record. Reads here are
// always against the authoritative store; the two-tier cache is forbidden
// for quota balances.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxnote/internal/common/logger"
	"voxnote/internal/models"
)

const (
	KindTranscription = "transcription"
	KindSummary       = "summary"
)

type Ledger struct {
	db  *sql.DB
	log logger.Logger
}

func NewLedger(db *sql.DB, log logger.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.WithFields(map[string]interface{}{"component": "quota"}),
	}
}

// Usage loads the ledger row for (user, month). A missing row is an empty
// row: a new month naturally starts at zero consumption without a rollover
// job.
func (l *Ledger) Usage(ctx context.Context, userID, month string) (*models.Usage, error) {
	u := &models.Usage{UserID: userID, Month: month}

	query := `SELECT transcription_count, seconds_used, transcription_cost,
		summary_count, summary_cost, notified_at_80, notified_at_100, updated_at
		FROM usage_ledger WHERE user_id = $1 AND month = $2`
	err := l.db.QueryRowContext(ctx, query, userID, month).Scan(
		&u.TranscriptionCount, &u.SecondsUsed, &u.TranscriptionCost,
		&u.SummaryCount, &u.SummaryCost, &u.NotifiedAt80, &u.NotifiedAt100, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, nil
		}
		return nil, fmt.Errorf("usage query: %w", err)
	}
	return u, nil
}

// RemainingMinutes computes the floor-clamped remaining transcription
// minutes for the month.
func (l *Ledger) RemainingMinutes(ctx context.Context, userID, month string, limits models.PlanLimits) (float64, error) {
	u, err := l.Usage(ctx, userID, month)
	if err != nil {
		return 0, err
	}
	remaining := limits.MinutesPerMonth - u.MinutesUsed()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RemainingSummaries computes the floor-clamped remaining summaries for the
// month.
func (l *Ledger) RemainingSummaries(ctx context.Context, userID, month string, limits models.PlanLimits) (int, error) {
	u, err := l.Usage(ctx, userID, month)
	if err != nil {
		return 0, err
	}
	remaining := limits.SummariesPerMonth - u.SummaryCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RecordTranscription atomically increments the month's transcription
// counters and appends one immutable detail record, in one transaction.
func (l *Ledger) RecordTranscription(ctx context.Context, userID, month string, seconds, cost float64, transcriptID string) error {
	return l.record(ctx, userID, month, KindTranscription, seconds, cost, transcriptID)
}

// RecordSummary atomically increments the month's summary counters and
// appends one immutable detail record.
func (l *Ledger) RecordSummary(ctx context.Context, userID, month string, cost float64, transcriptID string) error {
	return l.record(ctx, userID, month, KindSummary, 0, cost, transcriptID)
}

func (l *Ledger) record(ctx context.Context, userID, month, kind string, seconds, cost float64, transcriptID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger begin: %w", err)
	}
	defer tx.Rollback()

	var upsert string
	if kind == KindTranscription {
		upsert = `INSERT INTO usage_ledger
			(user_id, month, transcription_count, seconds_used, transcription_cost, summary_count, summary_cost, updated_at)
			VALUES ($1, $2, 1, $3, $4, 0, 0, NOW())
			ON CONFLICT (user_id, month) DO UPDATE SET
				transcription_count = usage_ledger.transcription_count + 1,
				seconds_used = usage_ledger.seconds_used + EXCLUDED.seconds_used,
				transcription_cost = usage_ledger.transcription_cost + EXCLUDED.transcription_cost,
				updated_at = NOW()`
	} else {
		upsert = `INSERT INTO usage_ledger
			(user_id, month, transcription_count, seconds_used, transcription_cost, summary_count, summary_cost, updated_at)
			VALUES ($1, $2, 0, $3, 0, 1, $4, NOW())
			ON CONFLICT (user_id, month) DO UPDATE SET
				summary_count = usage_ledger.summary_count + 1,
				summary_cost = usage_ledger.summary_cost + EXCLUDED.summary_cost,
				updated_at = NOW()`
	}

	if _, err := tx.ExecContext(ctx, upsert, userID, month, seconds, cost); err != nil {
		return fmt.Errorf("ledger upsert: %w", err)
	}

	detail := `INSERT INTO usage_details (id, user_id, month, kind, transcript_id, seconds, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
	if _, err := tx.ExecContext(ctx, detail,
		uuid.NewString(), userID, month, kind, transcriptID, seconds, cost,
	); err != nil {
		return fmt.Errorf("ledger detail insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	return nil
}

// ClaimThresholdNotice atomically flips the notified flag for a threshold
// (80 or 100). It returns true exactly once per (user, month, threshold),
// which makes the periodic scan idempotent.
func (l *Ledger) ClaimThresholdNotice(ctx context.Context, userID, month string, threshold int) (bool, error) {
	var column string
	switch threshold {
	case 80:
		column = "notified_at_80"
	case 100:
		column = "notified_at_100"
	default:
		return false, fmt.Errorf("unsupported threshold %d", threshold)
	}

	query := fmt.Sprintf(
		`UPDATE usage_ledger SET %s = TRUE WHERE user_id = $1 AND month = $2 AND %s = FALSE`,
		column, column,
	)
	res, err := l.db.ExecContext(ctx, query, userID, month)
	if err != nil {
		return false, fmt.Errorf("threshold claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("threshold claim result: %w", err)
	}
	return affected == 1, nil
}

// MonthRow pairs a ledger row with the owner's plan tier for threshold
// scans.
type MonthRow struct {
	Usage models.Usage
	Tier  models.PlanTier
}

// ScanMonth returns every ledger row for the month that has not yet been
// notified at both thresholds, joined with the user's tier.
func (l *Ledger) ScanMonth(ctx context.Context, month string) ([]MonthRow, error) {
	query := `SELECT u.user_id, u.month, u.transcription_count, u.seconds_used,
		u.summary_count, u.notified_at_80, u.notified_at_100, s.tier
		FROM usage_ledger u
		JOIN user_subscriptions s ON s.user_id = u.user_id
		WHERE u.month = $1 AND (u.notified_at_80 = FALSE OR u.notified_at_100 = FALSE)`
	rows, err := l.db.QueryContext(ctx, query, month)
	if err != nil {
		return nil, fmt.Errorf("month scan: %w", err)
	}
	defer rows.Close()

	var out []MonthRow
	for rows.Next() {
		var r MonthRow
		if err := rows.Scan(
			&r.Usage.UserID, &r.Usage.Month, &r.Usage.TranscriptionCount, &r.Usage.SecondsUsed,
			&r.Usage.SummaryCount, &r.Usage.NotifiedAt80, &r.Usage.NotifiedAt100, &r.Tier,
		); err != nil {
			return nil, fmt.Errorf("month scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CurrentMonth returns the ledger month key for now.
func CurrentMonth() string {
	return models.MonthKey(time.Now())
}
