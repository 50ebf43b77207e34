package plan

import "slices"

// Tier identifies a pricing tier. Tiers are ordered free < pro < agency
// only in the commercial sense; the engine never compares them directly.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierAgency Tier = "agency"
)

// Valid reports whether the tier is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierAgency:
		return true
	}
	return false
}

// Feature represents a plan-specific capability that can be enabled per tier.
type Feature string

const (
	FeatureAdvancedAnalysis Feature = "advanced_analysis"
	FeatureRecurringRefresh Feature = "recurring_refresh"
	FeatureMultiSeat        Feature = "multi_seat"
)

// Plan describes a pricing tier and its entitlement constraints.
// PriceRef is the payment provider's price ID for paid tiers, enabling
// direct mapping during checkout and webhook processing. It is empty for
// tiers that are never sold (free).
type Plan struct {
	Tier     Tier      `yaml:"tier"`
	Name     string    `yaml:"name"`
	Quota    int       `yaml:"quota"` // max concurrent listings
	PriceRef string    `yaml:"price_ref,omitempty"`
	Features []Feature `yaml:"features,omitempty"`
}

// HasFeature reports whether the plan includes a feature.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}
