// Package pipeline turns one inbound voice note into a persisted transcript
// and a reply. Every stage is a hard gate: a failed gate sends exactly one
// user-facing reply and stops before any further money is spent. Quota is
// checked optimistically and committed atomically; the inbound message id is
// the dedup key that makes retries safe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"time"

	stderrors "voxnote/internal/common/errors"
	"voxnote/internal/common/logger"
	"voxnote/internal/common/metrics"
	"voxnote/internal/messaging"
	"voxnote/internal/models"
	"voxnote/internal/quota"
	"voxnote/internal/session"
	"voxnote/internal/store"
	"voxnote/internal/summary"
	"voxnote/internal/transcribe"
)

// Indexer receives completed transcripts for search. Failures must be
// swallowed by the implementation; indexing is fire-and-forget.
type Indexer interface {
	Index(ctx context.Context, t *models.Transcript)
}

// Observer receives per-job outcome telemetry. observability.Observability
// satisfies it.
type Observer interface {
	RecordMessageProcessed(ctx context.Context, status string)
	RecordMessageDuration(ctx context.Context, duration time.Duration, status string)
}

// AudioProcessor is the media toolchain surface the pipeline needs.
// audio.Processor satisfies it.
type AudioProcessor interface {
	WriteTemp(dir string, data []byte, ext string) (string, error)
	Duration(ctx context.Context, path string) (float64, error)
	ConvertToWAV(ctx context.Context, path string) (string, error)
}

// Pricing holds the cost constants.
type Pricing struct {
	PerMinuteRate float64
	SummaryCost   float64
}

// Timeouts bounds the external calls. Expiry is a pipeline failure, not a
// retry storm.
type Timeouts struct {
	Download time.Duration
	Probe    time.Duration
	Convert  time.Duration
}

type Pipeline struct {
	subs        *store.SubscriptionStore
	transcripts *store.TranscriptStore
	ledger      *quota.Ledger
	transcriber transcribe.Transcriber
	summarizer  summary.Summarizer
	audio       AudioProcessor
	indexer     Indexer
	obs         Observer
	log         logger.Logger
	pricing     Pricing
	timeouts    Timeouts
	tempDir     string
}

func New(
	subs *store.SubscriptionStore,
	transcripts *store.TranscriptStore,
	ledger *quota.Ledger,
	transcriber transcribe.Transcriber,
	summarizer summary.Summarizer,
	proc AudioProcessor,
	indexer Indexer,
	obs Observer,
	log logger.Logger,
	pricing Pricing,
	timeouts Timeouts,
	tempDir string,
) *Pipeline {
	if timeouts.Download <= 0 {
		timeouts.Download = 60 * time.Second
	}
	if timeouts.Probe <= 0 {
		timeouts.Probe = 15 * time.Second
	}
	if timeouts.Convert <= 0 {
		timeouts.Convert = 60 * time.Second
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Pipeline{
		subs:        subs,
		transcripts: transcripts,
		ledger:      ledger,
		transcriber: transcriber,
		summarizer:  summarizer,
		audio:       proc,
		indexer:     indexer,
		obs:         obs,
		log:         log.WithFields(map[string]interface{}{"component": "pipeline"}),
		pricing:     pricing,
		timeouts:    timeouts,
		tempDir:     tempDir,
	}
}

// Run consumes jobs from the session manager's queue with the given number
// of concurrent workers, until the queue closes.
func (p *Pipeline) Run(ctx context.Context, queue <-chan session.Job, workers int) {
	if workers < 1 {
		workers = 1
	}
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for job := range queue {
				p.handle(ctx, job)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
}

func (p *Pipeline) handle(ctx context.Context, job session.Job) {
	start := time.Now()
	err := p.Process(ctx, job.UserID, job.Message, job.Client)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
		var std *stderrors.StandardError
		if errors.As(err, &std) && std.IsEntitlement() {
			outcome = "rejected"
		} else {
			p.log.Error("pipeline run failed", map[string]interface{}{
				"userId":    job.UserID,
				"messageId": job.Message.ID,
				"error":     err.Error(),
			})
		}
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	metrics.PipelineDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if p.obs != nil {
		p.obs.RecordMessageProcessed(ctx, outcome)
		p.obs.RecordMessageDuration(ctx, time.Since(start), outcome)
	}
}

// Process runs the full stage sequence for one voice note. Entitlement
// aborts return a StandardError so callers can distinguish them from system
// failures, but in every abort case exactly one reply has already been sent.
func (p *Pipeline) Process(ctx context.Context, userID string, msg *messaging.VoiceMessage, client messaging.Client) error {
	now := time.Now().UTC()
	month := models.MonthKey(now)

	// Dedup claim. A retried delivery of an already-processed message is
	// acknowledged by the original reply; it must not produce a second
	// transcript or a second charge.
	t := &models.Transcript{
		UserID:    userID,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		ChatID:    msg.ChatID,
		SentAt:    msg.Timestamp,
		MimeType:  msg.MimeType,
	}
	created, err := p.transcripts.Create(ctx, t)
	if err != nil {
		// Even a dedup-store failure must not leave the note unacknowledged.
		p.reply(ctx, client, msg, replyProcessingFailed)
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !created {
		existing, err := p.transcripts.GetByMessageID(ctx, msg.ID)
		if err != nil {
			p.reply(ctx, client, msg, replyProcessingFailed)
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if existing.Status != models.TranscriptFailed {
			p.log.Debug("duplicate delivery ignored", map[string]interface{}{
				"userId":    userID,
				"messageId": msg.ID,
			})
			return nil
		}
		claimed, err := p.transcripts.Reclaim(ctx, existing.ID)
		if err != nil {
			p.reply(ctx, client, msg, replyProcessingFailed)
			return fmt.Errorf("dedup reclaim: %w", err)
		}
		if !claimed {
			return nil
		}
		t = existing
	}

	// Temporary artifacts are removed on every exit path.
	var tempFiles []string
	defer func() {
		for _, path := range tempFiles {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				p.log.Warn("temp cleanup failed", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
			}
		}
	}()

	// Stage 1: entitlement.
	sub, entitled, err := p.subs.IsEntitled(ctx, userID, now)
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "entitlement", replyProcessingFailed)
		return fmt.Errorf("entitlement check: %w", err)
	}
	if !entitled {
		metrics.QuotaRejections.WithLabelValues("inactive").Inc()
		p.abortEntitlement(ctx, client, msg, t, "entitlement", replyUpgrade)
		return stderrors.NewSubscriptionInactiveError(userID)
	}

	// Stage 2: pre-flight quota.
	remaining, err := p.ledger.RemainingMinutes(ctx, userID, month, sub.Limits)
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "quota_preflight", replyProcessingFailed)
		return fmt.Errorf("quota pre-flight: %w", err)
	}
	if remaining <= 0 {
		metrics.QuotaRejections.WithLabelValues("exhausted").Inc()
		p.abortEntitlement(ctx, client, msg, t, "quota_preflight", replyQuotaExhausted())
		return stderrors.NewQuotaExceededError(0)
	}

	// Stage 3: media fetch.
	dlCtx, cancel := context.WithTimeout(ctx, p.timeouts.Download)
	data, err := client.DownloadMedia(dlCtx, msg)
	cancel()
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "download", replyDownloadFailed)
		return stderrors.NewMediaDownloadFailedError(err)
	}

	rawPath, err := p.audio.WriteTemp(p.tempDir, data, extensionFor(msg.MimeType))
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "download", replyProcessingFailed)
		return fmt.Errorf("write media: %w", err)
	}
	tempFiles = append(tempFiles, rawPath)

	// Stage 4: duration probe, from the decoded media.
	probeCtx, cancel := context.WithTimeout(ctx, p.timeouts.Probe)
	seconds, err := p.audio.Duration(probeCtx, rawPath)
	cancel()
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "probe", replyProcessingFailed)
		return stderrors.NewAudioProbeFailedError(err)
	}
	minutes := seconds / 60.0

	// Stage 5: per-message ceiling, independent of remaining quota.
	if seconds > float64(sub.Limits.MaxAudioSeconds) {
		metrics.QuotaRejections.WithLabelValues("too_long").Inc()
		p.abortEntitlement(ctx, client, msg, t, "ceiling", replyTooLong(sub.Limits.MaxAudioSeconds))
		return stderrors.NewAudioTooLongError(seconds, sub.Limits.MaxAudioSeconds)
	}

	// Stage 6: precise quota, recomputed from the ledger rather than the
	// pre-flight figure.
	remaining, err = p.ledger.RemainingMinutes(ctx, userID, month, sub.Limits)
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "quota_precise", replyProcessingFailed)
		return fmt.Errorf("quota precise check: %w", err)
	}
	if minutes > remaining {
		metrics.QuotaRejections.WithLabelValues("insufficient").Inc()
		p.abortEntitlement(ctx, client, msg, t, "quota_precise", replyQuotaInsufficient(remaining))
		return stderrors.NewQuotaExceededError(remaining)
	}

	if err := p.transcripts.MarkProcessing(ctx, t.ID); err != nil {
		p.log.Warn("mark processing failed", map[string]interface{}{
			"transcriptId": t.ID,
			"error":        err.Error(),
		})
	}

	// Stage 7: format conversion.
	convCtx, cancel := context.WithTimeout(ctx, p.timeouts.Convert)
	wavPath, err := p.audio.ConvertToWAV(convCtx, rawPath)
	cancel()
	if wavPath != "" {
		tempFiles = append(tempFiles, wavPath)
	}
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "convert", replyProcessingFailed)
		return stderrors.NewConversionFailedError(err)
	}

	// Stage 8: transcription.
	result, err := p.transcriber.Transcribe(ctx, wavPath, sub.Language)
	if err != nil {
		p.abortTransient(ctx, client, msg, t, "transcribe", replyProcessingFailed)
		return stderrors.NewTranscriptionFailedError(err)
	}

	// Stage 9: summarization. Never on trial, never fatal.
	summaryText := ""
	if sub.SummaryLevel != models.SummaryNone && sub.Tier != models.TierTrial {
		remainingSummaries, err := p.ledger.RemainingSummaries(ctx, userID, month, sub.Limits)
		if err != nil {
			p.log.Warn("summary quota check failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		} else if remainingSummaries > 0 {
			summaryText, err = p.summarizer.Summarize(ctx, result.Text, result.Language, sub.SummaryLevel)
			if err != nil {
				p.log.Warn("summary generation failed", map[string]interface{}{
					"userId": userID,
					"error":  err.Error(),
				})
				summaryText = ""
			}
		}
	}

	// Stage 10: persistence.
	cost := minutes * p.pricing.PerMinuteRate
	if summaryText != "" {
		cost += p.pricing.SummaryCost
	}
	t.Text = result.Text
	t.Summary = summaryText
	t.Seconds = seconds
	t.Language = result.Language
	t.Confidence = result.Confidence
	t.Segments = result.Segments
	t.Cost = cost
	if err := p.transcripts.Complete(ctx, t); err != nil {
		p.abortTransient(ctx, client, msg, t, "persist", replyProcessingFailed)
		return fmt.Errorf("transcript persist: %w", err)
	}
	t.Status = models.TranscriptCompleted

	// Stage 11: quota commit, the only point where consumption is
	// durably recorded. A failure here after the transcript write is a
	// reconciliation-required condition, never a blind retry.
	if err := p.ledger.RecordTranscription(ctx, userID, month, seconds, minutes*p.pricing.PerMinuteRate, t.ID); err != nil {
		std := stderrors.NewLedgerCommitFailedError(t.ID, err)
		metrics.ReconciliationRequired.Inc()
		p.log.Error("ledger commit failed, reconciliation required", map[string]interface{}{
			"transcriptId": t.ID,
			"userId":       userID,
			"seconds":      seconds,
			"error":        std.Error(),
		})
	} else {
		metrics.TranscribedSeconds.Add(seconds)
	}
	if summaryText != "" {
		if err := p.ledger.RecordSummary(ctx, userID, month, p.pricing.SummaryCost, t.ID); err != nil {
			metrics.ReconciliationRequired.Inc()
			p.log.Error("summary ledger commit failed, reconciliation required", map[string]interface{}{
				"transcriptId": t.ID,
				"userId":       userID,
				"error":        err.Error(),
			})
		}
	}

	if p.indexer != nil {
		p.indexer.Index(ctx, t)
	}

	// Stage 12: reply with the post-commit remaining figure.
	remainingAfter, err := p.ledger.RemainingMinutes(ctx, userID, month, sub.Limits)
	if err != nil {
		remainingAfter = remaining - minutes
		if remainingAfter < 0 {
			remainingAfter = 0
		}
	}
	reply := composeReply(result.Text, summaryText, remainingAfter, sub.Tier == models.TierTrial)
	if err := client.SendMessage(ctx, msg.ChatID, reply); err != nil {
		p.log.Error("reply send failed", map[string]interface{}{
			"userId":    userID,
			"messageId": msg.ID,
			"error":     err.Error(),
		})
	}

	return nil
}

// abortEntitlement replies and removes the pending transcript row: an
// entitlement rejection leaves no transcript and no ledger impact.
func (p *Pipeline) abortEntitlement(ctx context.Context, client messaging.Client, msg *messaging.VoiceMessage, t *models.Transcript, gate, reply string) {
	metrics.PipelineGateFailures.WithLabelValues(gate).Inc()
	p.reply(ctx, client, msg, reply)
	if err := p.transcripts.Delete(ctx, t.ID); err != nil {
		p.log.Warn("pending transcript cleanup failed", map[string]interface{}{
			"transcriptId": t.ID,
			"error":        err.Error(),
		})
	}
}

// abortTransient replies and marks the transcript failed so a bounded outer
// retry can reclaim it.
func (p *Pipeline) abortTransient(ctx context.Context, client messaging.Client, msg *messaging.VoiceMessage, t *models.Transcript, gate, reply string) {
	metrics.PipelineGateFailures.WithLabelValues(gate).Inc()
	p.reply(ctx, client, msg, reply)
	if err := p.transcripts.Fail(ctx, t.ID, reply); err != nil {
		p.log.Warn("transcript fail-state write failed", map[string]interface{}{
			"transcriptId": t.ID,
			"error":        err.Error(),
		})
	}
}

func (p *Pipeline) reply(ctx context.Context, client messaging.Client, msg *messaging.VoiceMessage, text string) {
	if err := client.SendMessage(ctx, msg.ChatID, text); err != nil {
		p.log.Error("abort reply send failed", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
	}
}

func extensionFor(mimeType string) string {
	if mimeType == "" {
		return ".ogg"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".ogg"
}
