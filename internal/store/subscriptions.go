package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voxnote/internal/cache"
	"voxnote/internal/common/logger"
	"voxnote/internal/models"
	"voxnote/internal/plans"
)

var ErrSubscriptionNotFound = errors.New("SUBSCRIPTION_NOT_FOUND")

// SubscriptionStore reads per-user subscriptions. Plan limits are resolved
// from the catalog by tier so a catalog update applies without a migration.
type SubscriptionStore struct {
	db      *sql.DB
	catalog *plans.Catalog
	cache   *cache.Cache
	log     logger.Logger
}

func NewSubscriptionStore(db *sql.DB, catalog *plans.Catalog, c *cache.Cache, log logger.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		db:      db,
		catalog: catalog,
		cache:   c,
		log:     log.WithFields(map[string]interface{}{"component": "subscriptions"}),
	}
}

// Get loads a user's subscription, consulting the profile cache first.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	if s.cache != nil {
		var cached models.Subscription
		if hit, err := s.cache.Get(ctx, cache.Profile, userID, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	sub, err := s.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.Profile, userID, sub); err != nil {
			s.log.Warn("subscription cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}
	return sub, nil
}

func (s *SubscriptionStore) fetch(ctx context.Context, userID string) (*models.Subscription, error) {
	var (
		sub              models.Subscription
		trialEndsAt      sql.NullTime
		currentPeriodEnd sql.NullTime
		summaryLevel     sql.NullString
		language         sql.NullString
	)

	query := `SELECT user_id, tier, status, trial_ends_at, current_period_end, summary_level, language
		FROM user_subscriptions WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.UserID, &sub.Tier, &sub.Status, &trialEndsAt, &currentPeriodEnd, &summaryLevel, &language,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subscription query: %w", err)
	}

	if trialEndsAt.Valid {
		sub.TrialEndsAt = trialEndsAt.Time
	}
	if currentPeriodEnd.Valid {
		sub.CurrentPeriodEnd = currentPeriodEnd.Time
	}
	sub.SummaryLevel = models.SummaryNone
	if summaryLevel.Valid && summaryLevel.String != "" {
		sub.SummaryLevel = models.SummaryLevel(summaryLevel.String)
	}
	if language.Valid {
		sub.Language = language.String
	}

	sub.Limits = s.catalog.Limits(sub.Tier)
	return &sub, nil
}

// Invalidate drops the cached subscription, both tiers. Called when the
// billing collaborator reports a plan change.
func (s *SubscriptionStore) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, cache.Profile, userID)
}

// IsEntitled reports whether the subscription permits processing right now.
func (s *SubscriptionStore) IsEntitled(ctx context.Context, userID string, now time.Time) (*models.Subscription, bool, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return sub, sub.IsActive(now), nil
}
