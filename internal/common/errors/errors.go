// Package errors provides standardized error handling for the voice-note
// processing pipeline and session lifecycle.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Entitlement errors: user-facing, never retried, never logged as system errors.
const (
	ErrCodeSubscriptionInactive ErrorCode = "SUBSCRIPTION_INACTIVE"
	ErrCodeQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeAudioTooLong         ErrorCode = "AUDIO_TOO_LONG"
)

// Transient collaborator errors: logged with context, surfaced as a generic
// "try again" reply, eligible for bounded retry by an outer scheduler.
const (
	ErrCodeMediaDownloadFailed ErrorCode = "MEDIA_DOWNLOAD_FAILED"
	ErrCodeAudioProbeFailed    ErrorCode = "AUDIO_PROBE_FAILED"
	ErrCodeConversionFailed    ErrorCode = "AUDIO_CONVERSION_FAILED"
	ErrCodeTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	ErrCodeSummaryFailed       ErrorCode = "SUMMARY_FAILED"
	ErrCodeClientStartFailed   ErrorCode = "CLIENT_START_FAILED"
)

// Fatal session errors: always drive full handle teardown.
const (
	ErrCodeAuthFailed         ErrorCode = "AUTH_FAILED"
	ErrCodeClientDisconnected ErrorCode = "CLIENT_DISCONNECTED"
)

// Persistence errors.
const (
	ErrCodeTranscriptWriteFailed ErrorCode = "TRANSCRIPT_WRITE_FAILED"
	ErrCodeLedgerCommitFailed    ErrorCode = "LEDGER_COMMIT_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// IsEntitlement reports whether the error belongs to the entitlement class.
func (e *StandardError) IsEntitlement() bool {
	switch e.Code {
	case ErrCodeSubscriptionInactive, ErrCodeQuotaExceeded, ErrCodeAudioTooLong:
		return true
	}
	return false
}

// NewSubscriptionInactiveError creates a non-retryable entitlement error.
func NewSubscriptionInactiveError(userID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriptionInactive,
		Message:   "Subscription is not active",
		Details:   fmt.Sprintf("userId: %s", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQuotaExceededError creates a non-retryable entitlement error carrying
// the remaining minutes figure for the user-facing reply.
func NewQuotaExceededError(remainingMinutes float64) *StandardError {
	return &StandardError{
		Code:      ErrCodeQuotaExceeded,
		Message:   "Monthly transcription quota exceeded",
		Details:   fmt.Sprintf("remainingMinutes: %.2f", remainingMinutes),
		Retryable: false,
		Metadata:  map[string]interface{}{"remainingMinutes": remainingMinutes},
		Timestamp: time.Now().UTC(),
	}
}

// NewAudioTooLongError creates a non-retryable entitlement error for audio
// exceeding the plan's single-message ceiling.
func NewAudioTooLongError(seconds float64, maxSeconds int) *StandardError {
	return &StandardError{
		Code:      ErrCodeAudioTooLong,
		Message:   "Audio exceeds the maximum duration for this plan",
		Details:   fmt.Sprintf("seconds: %.1f, maxSeconds: %d", seconds, maxSeconds),
		Retryable: false,
		Metadata:  map[string]interface{}{"maxSeconds": maxSeconds},
		Timestamp: time.Now().UTC(),
	}
}

// NewMediaDownloadFailedError creates a retryable media fetch error.
func NewMediaDownloadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMediaDownloadFailed,
		Message:   "Failed to download voice note media",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAudioProbeFailedError creates a retryable duration probe error.
func NewAudioProbeFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAudioProbeFailed,
		Message:   "Failed to measure audio duration",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConversionFailedError creates a retryable format conversion error.
func NewConversionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConversionFailed,
		Message:   "Failed to convert audio format",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTranscriptionFailedError creates a retryable transcription error.
func NewTranscriptionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTranscriptionFailed,
		Message:   "Transcription service call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewClientStartFailedError creates a retryable automation startup error.
func NewClientStartFailedError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClientStartFailed,
		Message:   "Messaging client failed to start",
		Details:   fmt.Sprintf("userId: %s, error: %s", userID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthFailedError creates a fatal session error.
func NewAuthFailedError(userID, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthFailed,
		Message:   "Messaging account authentication failed",
		Details:   fmt.Sprintf("userId: %s, reason: %s", userID, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerCommitFailedError flags a reconciliation-required condition: the
// transcript was persisted but its consumption was not recorded. Retrying
// blindly risks double charging, so the error is logged and surfaced, not
// retried.
func NewLedgerCommitFailedError(transcriptID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerCommitFailed,
		Message:   "Usage ledger commit failed after transcript write",
		Details:   fmt.Sprintf("transcriptId: %s, error: %s", transcriptID, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"reconciliationRequired": true, "transcriptId": transcriptID},
		Timestamp: time.Now().UTC(),
	}
}
