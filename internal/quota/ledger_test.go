package quota

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxnote/internal/common/logger"
	"voxnote/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewLedger(db, logger.NewTestLogger(t))
	return ledger, mock, func() { db.Close() }
}

func basicLimits() models.PlanLimits {
	return models.PlanLimits{
		MinutesPerMonth:   300,
		SummariesPerMonth: 50,
		MaxAudioSeconds:   600,
	}
}

func usageRows(transcriptions int, seconds float64, summaries int, at80, at100 bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"transcription_count", "seconds_used", "transcription_cost",
		"summary_count", "summary_cost", "notified_at_80", "notified_at_100", "updated_at",
	}).AddRow(transcriptions, seconds, 0.0, summaries, 0.0, at80, at100, time.Now())
}

const usageQuery = `SELECT transcription_count, seconds_used, transcription_cost`

// ==========================
// Remaining Math
// ==========================

func TestLedger_Usage_MissingRowIsZero(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	mock.ExpectQuery(usageQuery).
		WithArgs("user-1", "2026-09").
		WillReturnError(sql.ErrNoRows)

	u, err := ledger.Usage(context.Background(), "user-1", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 0, u.TranscriptionCount)
	assert.Equal(t, 0.0, u.SecondsUsed)
	assert.Equal(t, "2026-09", u.Month)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_RemainingMinutes(t *testing.T) {
	tests := []struct {
		name        string
		secondsUsed float64
		expected    float64
	}{
		{name: "fresh month", secondsUsed: 0, expected: 300},
		{name: "two minutes used", secondsUsed: 120, expected: 298},
		{name: "exactly exhausted", secondsUsed: 300 * 60, expected: 0},
		{name: "overshoot clamps to zero", secondsUsed: 301 * 60, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock, cleanup := createTestLedger(t)
			defer cleanup()

			mock.ExpectQuery(usageQuery).
				WithArgs("user-1", "2026-09").
				WillReturnRows(usageRows(1, tt.secondsUsed, 0, false, false))

			remaining, err := ledger.RemainingMinutes(context.Background(), "user-1", "2026-09", basicLimits())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, remaining)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLedger_RemainingSummaries(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	mock.ExpectQuery(usageQuery).
		WithArgs("user-1", "2026-09").
		WillReturnRows(usageRows(10, 600, 50, false, false))

	remaining, err := ledger.RemainingSummaries(context.Background(), "user-1", "2026-09", basicLimits())
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

// ==========================
// Commits
// ==========================

func TestLedger_RecordTranscription(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO usage_ledger`).
		WithArgs("user-1", "2026-09", 120.0, 0.012).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO usage_details`).
		WithArgs(sqlmock.AnyArg(), "user-1", "2026-09", KindTranscription, "tr-1", 120.0, 0.012).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.RecordTranscription(context.Background(), "user-1", "2026-09", 120.0, 0.012, "tr-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_RecordSummary(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO usage_ledger`).
		WithArgs("user-1", "2026-09", 0.0, 0.001).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO usage_details`).
		WithArgs(sqlmock.AnyArg(), "user-1", "2026-09", KindSummary, "tr-1", 0.0, 0.001).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.RecordSummary(context.Background(), "user-1", "2026-09", 0.001, "tr-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Record_RollsBackOnUpsertFailure(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO usage_ledger`).
		WithArgs("user-1", "2026-09", 60.0, 0.006).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := ledger.RecordTranscription(context.Background(), "user-1", "2026-09", 60.0, 0.006, "tr-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Threshold Claims
// ==========================

func TestLedger_ClaimThresholdNotice(t *testing.T) {
	t.Run("first claim wins", func(t *testing.T) {
		ledger, mock, cleanup := createTestLedger(t)
		defer cleanup()

		mock.ExpectExec(`UPDATE usage_ledger SET notified_at_80 = TRUE WHERE user_id = \$1 AND month = \$2 AND notified_at_80 = FALSE`).
			WithArgs("user-1", "2026-09").
			WillReturnResult(sqlmock.NewResult(0, 1))

		claimed, err := ledger.ClaimThresholdNotice(context.Background(), "user-1", "2026-09", 80)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("second claim is a no-op", func(t *testing.T) {
		ledger, mock, cleanup := createTestLedger(t)
		defer cleanup()

		mock.ExpectExec(`UPDATE usage_ledger SET notified_at_100 = TRUE`).
			WithArgs("user-1", "2026-09").
			WillReturnResult(sqlmock.NewResult(0, 0))

		claimed, err := ledger.ClaimThresholdNotice(context.Background(), "user-1", "2026-09", 100)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("unsupported threshold", func(t *testing.T) {
		ledger, _, cleanup := createTestLedger(t)
		defer cleanup()

		_, err := ledger.ClaimThresholdNotice(context.Background(), "user-1", "2026-09", 90)
		assert.Error(t, err)
	})
}

// ==========================
// Month Scans
// ==========================

func TestLedger_ScanMonth(t *testing.T) {
	ledger, mock, cleanup := createTestLedger(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{
		"user_id", "month", "transcription_count", "seconds_used",
		"summary_count", "notified_at_80", "notified_at_100", "tier",
	}).
		AddRow("user-1", "2026-09", 50, 15000.0, 3, false, false, "basic").
		AddRow("user-2", "2026-09", 10, 500.0, 0, true, false, "pro")
	mock.ExpectQuery(`SELECT u.user_id, u.month`).
		WithArgs("2026-09").
		WillReturnRows(rows)

	out, err := ledger.ScanMonth(context.Background(), "2026-09")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.PlanTier("basic"), out[0].Tier)
	assert.Equal(t, 250.0, out[0].Usage.MinutesUsed())
	assert.True(t, out[1].Usage.NotifiedAt80)
	assert.NoError(t, mock.ExpectationsWereMet())
}
