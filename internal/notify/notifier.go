// Package notify watches monthly consumption and fires quota warnings at
// the 80% and 100% thresholds, once per user per month per threshold. The
// ledger's claim flags make the periodic scan idempotent; delivery failures
// are logged and never propagated to the pipeline.
package notify

import (
	"context"
	"time"

	"voxnote/internal/common/logger"
	"voxnote/internal/plans"
	"voxnote/internal/quota"
)

// Sender delivers one quota alert. Implementations are fire-and-forget
// transports (email, SMS).
type Sender interface {
	SendQuotaAlert(ctx context.Context, userID string, threshold int, usedMinutes, limitMinutes float64) error
}

type Watcher struct {
	ledger   *quota.Ledger
	catalog  *plans.Catalog
	senders  []Sender
	log      logger.Logger
	interval time.Duration
}

func NewWatcher(ledger *quota.Ledger, catalog *plans.Catalog, senders []Sender, log logger.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		ledger:   ledger,
		catalog:  catalog,
		senders:  senders,
		log:      log.WithFields(map[string]interface{}{"component": "notify"}),
		interval: interval,
	}
}

// Run scans periodically until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan walks the current month's ledger rows and fires any threshold
// crossings that have not been claimed yet.
func (w *Watcher) Scan(ctx context.Context) {
	month := quota.CurrentMonth()
	rows, err := w.ledger.ScanMonth(ctx, month)
	if err != nil {
		w.log.Error("threshold scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, row := range rows {
		limits := w.catalog.Limits(row.Tier)
		if limits.MinutesPerMonth <= 0 {
			continue
		}
		used := row.Usage.MinutesUsed()
		pct := used / limits.MinutesPerMonth * 100

		if pct >= 100 && !row.Usage.NotifiedAt100 {
			w.fire(ctx, row.Usage.UserID, month, 100, used, limits.MinutesPerMonth)
		} else if pct >= 80 && !row.Usage.NotifiedAt80 {
			w.fire(ctx, row.Usage.UserID, month, 80, used, limits.MinutesPerMonth)
		}
	}
}

func (w *Watcher) fire(ctx context.Context, userID, month string, threshold int, used, limit float64) {
	claimed, err := w.ledger.ClaimThresholdNotice(ctx, userID, month, threshold)
	if err != nil {
		w.log.Error("threshold claim failed", map[string]interface{}{
			"userId":    userID,
			"threshold": threshold,
			"error":     err.Error(),
		})
		return
	}
	if !claimed {
		// Another worker process got there first.
		return
	}

	for _, sender := range w.senders {
		if err := sender.SendQuotaAlert(ctx, userID, threshold, used, limit); err != nil {
			w.log.Warn("quota alert delivery failed", map[string]interface{}{
				"userId":    userID,
				"threshold": threshold,
				"error":     err.Error(),
			})
		}
	}

	w.log.Info("quota alert sent", map[string]interface{}{
		"userId":    userID,
		"threshold": threshold,
		"used":      used,
		"limit":     limit,
	})
}
