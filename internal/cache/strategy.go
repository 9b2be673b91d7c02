package cache

import "time"

// Strategy names a per-data-type caching policy: distinct TTLs per tier and
// a key prefix so whole categories can be invalidated together.
type Strategy struct {
	Name           string
	KeyPrefix      string
	LocalTTL       time.Duration
	DistributedTTL time.Duration
}

// Named strategies. Quota balances are deliberately absent: in-pipeline
// quota reads always go to the ledger's authoritative store.
var (
	APIResponse = Strategy{
		Name:           "api-response",
		KeyPrefix:      "api",
		LocalTTL:       30 * time.Second,
		DistributedTTL: 2 * time.Minute,
	}

	SessionMeta = Strategy{
		Name:           "session-meta",
		KeyPrefix:      "sess",
		LocalTTL:       5 * time.Minute,
		DistributedTTL: 30 * time.Minute,
	}

	Profile = Strategy{
		Name:           "profile",
		KeyPrefix:      "prof",
		LocalTTL:       2 * time.Minute,
		DistributedTTL: 15 * time.Minute,
	}
)

func (s Strategy) fullKey(key string) string {
	return s.KeyPrefix + ":" + key
}
