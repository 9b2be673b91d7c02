package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxnote_pipeline_runs_total",
			Help: "Total pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineGateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxnote_pipeline_gate_failures_total",
			Help: "Pipeline aborts by gate",
		},
		[]string{"gate"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "voxnote_pipeline_duration_seconds",
			Help: "Duration of one pipeline run in seconds",
		},
		[]string{"outcome"},
	)

	TranscribedSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxnote_transcribed_audio_seconds_total",
			Help: "Total seconds of audio successfully transcribed",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxnote_active_sessions",
			Help: "Number of live or pending messaging session handles",
		},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxnote_quota_rejections_total",
			Help: "Messages rejected by entitlement gates",
		},
		[]string{"reason"},
	)

	ReconciliationRequired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxnote_ledger_reconciliation_required_total",
			Help: "Transcript persisted but ledger commit failed",
		},
	)
)
