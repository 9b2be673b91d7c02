package models

import "time"

// PlanTier identifies a commercial plan.
type PlanTier string

const (
	TierTrial      PlanTier = "trial"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus is the billing-provider lifecycle state.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// PlanLimits holds the per-tier consumption ceilings and feature flags.
type PlanLimits struct {
	MinutesPerMonth   float64 `json:"minutesPerMonth"`
	SummariesPerMonth int     `json:"summariesPerMonth"`
	MaxAudioSeconds   int     `json:"maxAudioSeconds"`
	MultiLanguage     bool    `json:"multiLanguage"`
	Priority          bool    `json:"priority"`
	SeparateChat      bool    `json:"separateChat"`
}

// SummaryLevel selects how a transcript summary is shaped.
type SummaryLevel string

const (
	SummaryNone     SummaryLevel = "none"
	SummaryConcise  SummaryLevel = "concise"
	SummaryDetailed SummaryLevel = "detailed"
)

// Subscription is the per-user plan record. Exactly one exists per user;
// it is mutated only by the billing webhook collaborator and user-initiated
// upgrade/cancel actions, both outside this service.
type Subscription struct {
	UserID           string             `json:"userId"`
	Tier             PlanTier           `json:"tier"`
	Status           SubscriptionStatus `json:"status"`
	TrialEndsAt      time.Time          `json:"trialEndsAt"`
	CurrentPeriodEnd time.Time          `json:"currentPeriodEnd"`
	Limits           PlanLimits         `json:"limits"`
	SummaryLevel     SummaryLevel       `json:"summaryLevel"`
	Language         string             `json:"language"` // empty means auto-detect
}

// IsActive reports whether the subscription currently entitles the user to
// processing: status must be active, and the applicable period window must
// not have elapsed.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.Tier == TierTrial {
		return now.Before(s.TrialEndsAt)
	}
	return now.Before(s.CurrentPeriodEnd)
}
