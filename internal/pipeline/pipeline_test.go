package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "voxnote/internal/common/errors"
	"voxnote/internal/common/logger"
	"voxnote/internal/messaging"
	"voxnote/internal/models"
	"voxnote/internal/plans"
	"voxnote/internal/quota"
	"voxnote/internal/store"
	"voxnote/internal/transcribe"
)

// ==========================
// Fakes
// ==========================

type fakeClient struct {
	mu          sync.Mutex
	sent        []string
	downloadErr error
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Logout(ctx context.Context) error  { return nil }
func (f *fakeClient) Close() error                      { return nil }
func (f *fakeClient) Events() <-chan messaging.Event    { return nil }

func (f *fakeClient) SendMessage(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeClient) DownloadMedia(ctx context.Context, msg *messaging.VoiceMessage) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("opus-bytes"), nil
}

func (f *fakeClient) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeAudio struct {
	duration    float64
	durationErr error
	convertErr  error
	written     []string
}

func (f *fakeAudio) WriteTemp(dir string, data []byte, ext string) (string, error) {
	path := filepath.Join(dir, "note"+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	f.written = append(f.written, path)
	return path, nil
}

func (f *fakeAudio) Duration(ctx context.Context, path string) (float64, error) {
	if f.durationErr != nil {
		return 0, f.durationErr
	}
	return f.duration, nil
}

func (f *fakeAudio) ConvertToWAV(ctx context.Context, path string) (string, error) {
	// Mirrors the real converter: a failed run still reports the partial
	// output path so the caller can clean it up.
	wav := strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
	if err := os.WriteFile(wav, []byte("pcm"), 0o600); err != nil {
		return "", err
	}
	f.written = append(f.written, wav)
	return wav, f.convertErr
}

type fakeTranscriber struct {
	result *transcribe.Result
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*transcribe.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSummarizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text, language string, level models.SummaryLevel) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// ==========================
// Harness
// ==========================

type harness struct {
	pipe        *Pipeline
	mock        sqlmock.Sqlmock
	client      *fakeClient
	audio       *fakeAudio
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	tempDir     string
	month       string
}

func newHarness(t *testing.T) *harness {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	h := &harness{
		mock:   mock,
		client: &fakeClient{},
		audio:  &fakeAudio{duration: 120},
		transcriber: &fakeTranscriber{result: &transcribe.Result{
			Text:       "pick up the dry cleaning before six",
			Language:   "en",
			Seconds:    120,
			Confidence: 0.95,
		}},
		summarizer: &fakeSummarizer{text: "Dry cleaning reminder."},
		tempDir:    t.TempDir(),
		month:      models.MonthKey(time.Now().UTC()),
	}

	subs := store.NewSubscriptionStore(db, plans.Defaults(), nil, log)
	transcripts := store.NewTranscriptStore(db, log)
	ledger := quota.NewLedger(db, log)

	h.pipe = New(
		subs, transcripts, ledger,
		h.transcriber, h.summarizer, h.audio, nil, nil, log,
		Pricing{PerMinuteRate: 0.5, SummaryCost: 0.25},
		Timeouts{},
		h.tempDir,
	)
	return h
}

func voiceNote(id string) *messaging.VoiceMessage {
	return &messaging.VoiceMessage{
		ID:        id,
		Sender:    "+15551234567",
		ChatID:    "chat-1",
		MimeType:  "audio/ogg",
		Timestamp: time.Now().UTC(),
	}
}

func (h *harness) expectCreate(claimed int64) {
	h.mock.ExpectExec(`INSERT INTO transcripts`).
		WillReturnResult(sqlmock.NewResult(0, claimed))
}

func (h *harness) expectSubscription(tier models.PlanTier, level string) {
	rows := sqlmock.NewRows([]string{
		"user_id", "tier", "status", "trial_ends_at", "current_period_end", "summary_level", "language",
	})
	if tier == models.TierTrial {
		rows.AddRow("user-1", string(tier), "active", time.Now().Add(24*time.Hour), nil, level, "en")
	} else {
		rows.AddRow("user-1", string(tier), "active", nil, time.Now().Add(24*time.Hour), level, "en")
	}
	h.mock.ExpectQuery(`SELECT user_id, tier, status`).
		WithArgs("user-1").
		WillReturnRows(rows)
}

func (h *harness) expectUsage(secondsUsed float64, summaries int) {
	h.mock.ExpectQuery(`SELECT transcription_count, seconds_used`).
		WithArgs("user-1", h.month).
		WillReturnRows(sqlmock.NewRows([]string{
			"transcription_count", "seconds_used", "transcription_cost",
			"summary_count", "summary_cost", "notified_at_80", "notified_at_100", "updated_at",
		}).AddRow(0, secondsUsed, 0.0, summaries, 0.0, false, false, time.Now()))
}

func (h *harness) expectLedgerCommit(kind string, seconds, cost float64) {
	h.mock.ExpectBegin()
	h.mock.ExpectExec(`INSERT INTO usage_ledger`).
		WithArgs("user-1", h.month, seconds, cost).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO usage_details`).
		WithArgs(sqlmock.AnyArg(), "user-1", h.month, kind, sqlmock.AnyArg(), seconds, cost).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
}

func (h *harness) expectMarkProcessing() {
	h.mock.ExpectExec(`UPDATE transcripts SET status = \$2 WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectComplete() {
	h.mock.ExpectExec(`UPDATE transcripts SET\s+text = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectDelete() {
	h.mock.ExpectExec(`DELETE FROM transcripts WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectFail() {
	h.mock.ExpectExec(`UPDATE transcripts SET status = \$2, error = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) assertTempFilesRemoved(t *testing.T) {
	for _, path := range h.audio.written {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "temp file %s should be removed", path)
	}
}

// ==========================
// Full Run
// ==========================

func TestPipeline_Process_Success(t *testing.T) {
	h := newHarness(t)
	// Two minutes of audio against a basic plan with nothing consumed yet.
	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "concise")
	h.expectUsage(0, 0)      // pre-flight
	h.expectUsage(0, 0)      // precise re-read
	h.expectMarkProcessing()
	h.expectUsage(0, 0)      // summary allowance
	h.expectComplete()
	h.expectLedgerCommit(quota.KindTranscription, 120.0, 1.0)
	h.expectLedgerCommit(quota.KindSummary, 0.0, 0.25)
	h.expectUsage(120, 0)    // post-commit remaining for the reply

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-1"), h.client)
	require.NoError(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "pick up the dry cleaning")
	assert.Contains(t, replies[0], "Dry cleaning reminder.")
	assert.Contains(t, replies[0], "298 minutes remaining")
	assert.NotContains(t, replies[0], "trial", "paid plans get no promo footer")

	assert.Equal(t, 1, h.transcriber.calls)
	assert.Equal(t, 1, h.summarizer.calls)
	h.assertTempFilesRemoved(t)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_SummaryFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.summarizer.err = errors.New("model overloaded")

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "concise")
	h.expectUsage(0, 0)
	h.expectUsage(0, 0)
	h.expectMarkProcessing()
	h.expectUsage(0, 0)
	h.expectComplete()
	h.expectLedgerCommit(quota.KindTranscription, 120.0, 1.0)
	h.expectUsage(120, 0)

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-2"), h.client)
	require.NoError(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "pick up the dry cleaning")
	assert.NotContains(t, replies[0], "Summary")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_TrialSkipsSummary(t *testing.T) {
	h := newHarness(t)
	h.audio.duration = 60

	h.expectCreate(1)
	h.expectSubscription(models.TierTrial, "concise")
	h.expectUsage(0, 0)
	h.expectUsage(0, 0)
	h.expectMarkProcessing()
	h.expectComplete()
	h.expectLedgerCommit(quota.KindTranscription, 60.0, 0.5)
	h.expectUsage(60, 0)

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-3"), h.client)
	require.NoError(t, err)

	assert.Equal(t, 0, h.summarizer.calls, "trial tier never summarizes")
	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "minutes remaining")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// ==========================
// Entitlement Aborts
// ==========================

func TestPipeline_Process_InactiveSubscription(t *testing.T) {
	h := newHarness(t)

	h.expectCreate(1)
	rows := sqlmock.NewRows([]string{
		"user_id", "tier", "status", "trial_ends_at", "current_period_end", "summary_level", "language",
	}).AddRow("user-1", "basic", "cancelled", nil, time.Now().Add(24*time.Hour), "none", "")
	h.mock.ExpectQuery(`SELECT user_id, tier, status`).WithArgs("user-1").WillReturnRows(rows)
	h.expectDelete()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-4"), h.client)
	require.Error(t, err)

	var std *stderrors.StandardError
	require.ErrorAs(t, err, &std)
	assert.True(t, std.IsEntitlement())

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "not active")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_QuotaExhausted(t *testing.T) {
	h := newHarness(t)

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(300*60, 0) // fully consumed
	h.expectDelete()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-5"), h.client)
	require.Error(t, err)

	var std *stderrors.StandardError
	require.ErrorAs(t, err, &std)
	assert.True(t, std.IsEntitlement())

	assert.Equal(t, 0, h.transcriber.calls, "no transcription spend after rejection")
	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "used up your transcription minutes")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_AudioExceedsPlanCeiling(t *testing.T) {
	h := newHarness(t)
	h.audio.duration = 700 // basic ceiling is 600 seconds

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(0, 0)
	h.expectDelete()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-6"), h.client)
	require.Error(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "600")
	assert.Equal(t, 0, h.transcriber.calls)
	h.assertTempFilesRemoved(t)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_InsufficientRemainingQuota(t *testing.T) {
	h := newHarness(t)
	h.audio.duration = 300 // five minutes

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(296*60, 0) // pre-flight: 4 minutes left, still positive
	h.expectUsage(296*60, 0) // precise: 5 > 4, reject
	h.expectDelete()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-7"), h.client)
	require.Error(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "longer than your remaining quota")
	assert.Contains(t, replies[0], "4 minutes left")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// ==========================
// Transient Aborts
// ==========================

func TestPipeline_Process_DownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.client.downloadErr = errors.New("media gone")

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(0, 0)
	h.expectFail()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-8"), h.client)
	require.Error(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "couldn't download")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_ConversionFailureRemovesPartialOutput(t *testing.T) {
	h := newHarness(t)
	h.audio.convertErr = errors.New("corrupt stream")

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(0, 0)
	h.expectUsage(0, 0)
	h.expectMarkProcessing()
	h.expectFail()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-12"), h.client)
	require.Error(t, err)

	// Both the raw media and the half-written wav are removed.
	require.Len(t, h.audio.written, 2)
	h.assertTempFilesRemoved(t)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_TranscriptionFailure(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = errors.New("whisper unavailable")

	h.expectCreate(1)
	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(0, 0)
	h.expectUsage(0, 0)
	h.expectMarkProcessing()
	h.expectFail()

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-9"), h.client)
	require.Error(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Something went wrong")
	h.assertTempFilesRemoved(t)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// ==========================
// Dedup
// ==========================

func TestPipeline_Process_DuplicateDelivery(t *testing.T) {
	h := newHarness(t)

	h.expectCreate(0) // unique message_id conflict
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "message_id", "text", "summary", "seconds", "language", "confidence",
		"segments", "sender", "chat_id", "sent_at", "cost", "mime_type", "status", "error", "created_at",
	}).AddRow(
		"tr-1", "user-1", "msg-10", "already done", nil, 30.0, "en", 0.9,
		nil, "+1555", "chat-1", now, 0.25, "audio/ogg", string(models.TranscriptCompleted), nil, now,
	)
	h.mock.ExpectQuery(`SELECT id, user_id, message_id`).
		WithArgs("msg-10").
		WillReturnRows(rows)

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-10"), h.client)
	require.NoError(t, err)

	assert.Empty(t, h.client.replies(), "duplicate must not produce a second reply")
	assert.Equal(t, 0, h.transcriber.calls)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_DedupStoreFailureStillReplies(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectExec(`INSERT INTO transcripts`).
		WillReturnError(errors.New("connection reset"))

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-13"), h.client)
	require.Error(t, err)

	replies := h.client.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Something went wrong")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPipeline_Process_ReclaimsFailedRow(t *testing.T) {
	h := newHarness(t)

	h.expectCreate(0)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "message_id", "text", "summary", "seconds", "language", "confidence",
		"segments", "sender", "chat_id", "sent_at", "cost", "mime_type", "status", "error", "created_at",
	}).AddRow(
		"tr-2", "user-1", "msg-11", "", nil, 0.0, "", 0.0,
		nil, "+1555", "chat-1", now, 0.0, "audio/ogg", string(models.TranscriptFailed), "download failed", now,
	)
	h.mock.ExpectQuery(`SELECT id, user_id, message_id`).
		WithArgs("msg-11").
		WillReturnRows(rows)
	h.mock.ExpectExec(`UPDATE transcripts SET status = \$2, error = '' WHERE id = \$1 AND status = \$3`).
		WithArgs("tr-2", models.TranscriptProcessing, models.TranscriptFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h.expectSubscription(models.TierBasic, "none")
	h.expectUsage(0, 0)
	h.expectUsage(0, 0)
	h.expectMarkProcessing()
	h.expectComplete()
	h.expectLedgerCommit(quota.KindTranscription, 120.0, 1.0)
	h.expectUsage(120, 0)

	err := h.pipe.Process(context.Background(), "user-1", voiceNote("msg-11"), h.client)
	require.NoError(t, err)
	require.Len(t, h.client.replies(), 1)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// ==========================
// Reply Composition
// ==========================

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "298", formatMinutes(298))
	assert.Equal(t, "0", formatMinutes(0))
	assert.Equal(t, "4.5", formatMinutes(4.5))
}

func TestComposeReply(t *testing.T) {
	t.Run("with summary", func(t *testing.T) {
		reply := composeReply("note text", "the gist", 10, false)
		assert.Contains(t, reply, "note text")
		assert.Contains(t, reply, "the gist")
		assert.Contains(t, reply, "10 minutes remaining")
	})

	t.Run("trial gets a promo footer", func(t *testing.T) {
		reply := composeReply("note text", "", 5, true)
		found := false
		for _, promo := range trialPromos {
			if strings.Contains(reply, promo) {
				found = true
			}
		}
		assert.True(t, found, "trial reply should carry one promo from the pool")
	})
}
