// Package plans holds the per-tier limit catalog. Limits ship with built-in
// defaults and can be overridden by a JSON catalog file, which is validated
// against a schema before use so a malformed deploy cannot zero out quotas.
package plans

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"voxnote/internal/models"
)

const catalogSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {
		"type": "object",
		"required": ["minutesPerMonth", "summariesPerMonth", "maxAudioSeconds"],
		"properties": {
			"minutesPerMonth":   {"type": "number", "minimum": 0},
			"summariesPerMonth": {"type": "integer", "minimum": 0},
			"maxAudioSeconds":   {"type": "integer", "minimum": 1},
			"multiLanguage":     {"type": "boolean"},
			"priority":          {"type": "boolean"},
			"separateChat":      {"type": "boolean"}
		}
	}
}`

// Catalog maps plan tiers to their limits.
type Catalog struct {
	limits map[models.PlanTier]models.PlanLimits
}

// Defaults returns the built-in catalog.
func Defaults() *Catalog {
	return &Catalog{limits: map[models.PlanTier]models.PlanLimits{
		models.TierTrial: {
			MinutesPerMonth:   30,
			SummariesPerMonth: 0,
			MaxAudioSeconds:   180,
		},
		models.TierBasic: {
			MinutesPerMonth:   300,
			SummariesPerMonth: 50,
			MaxAudioSeconds:   600,
		},
		models.TierPro: {
			MinutesPerMonth:   1000,
			SummariesPerMonth: 200,
			MaxAudioSeconds:   1200,
			MultiLanguage:     true,
			Priority:          true,
		},
		models.TierEnterprise: {
			MinutesPerMonth:   5000,
			SummariesPerMonth: 1000,
			MaxAudioSeconds:   1800,
			MultiLanguage:     true,
			Priority:          true,
			SeparateChat:      true,
		},
	}}
}

// Load reads a catalog override file. An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates raw catalog JSON against the schema and builds a Catalog.
func Parse(data []byte) (*Catalog, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(catalogSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate plan catalog: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid plan catalog: %v", result.Errors())
	}

	var raw map[models.PlanTier]models.PlanLimits
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}

	// Overrides extend the defaults so a partial catalog leaves the
	// remaining tiers intact.
	cat := Defaults()
	for tier, limits := range raw {
		cat.limits[tier] = limits
	}
	return cat, nil
}

// Limits returns the limits for a tier. Unknown tiers fall back to trial,
// the most restrictive plan.
func (c *Catalog) Limits(tier models.PlanTier) models.PlanLimits {
	if l, ok := c.limits[tier]; ok {
		return l
	}
	return c.limits[models.TierTrial]
}
