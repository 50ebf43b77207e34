package plan

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticSource serves a fixed list of plans. Useful for tests and for
// deployments that compile the catalog in rather than shipping a file.
type StaticSource []Plan

func (s StaticSource) Load(_ context.Context) ([]Plan, error) {
	return s, nil
}

// DefaultPlans returns the built-in catalog used when no plans file is
// configured. Price refs must be overridden per environment, so the
// defaults carry none and paid checkout requires an explicit catalog.
func DefaultPlans() StaticSource {
	return StaticSource{
		{Tier: TierFree, Name: "Free", Quota: 1},
		{
			Tier: TierPro, Name: "Pro", Quota: 10,
			Features: []Feature{FeatureAdvancedAnalysis, FeatureRecurringRefresh},
		},
		{
			Tier: TierAgency, Name: "Agency", Quota: 50,
			Features: []Feature{FeatureAdvancedAnalysis, FeatureRecurringRefresh, FeatureMultiSeat},
		},
	}
}

// YAMLSource loads plans from a YAML file on disk.
//
// File format:
//
//	plans:
//	  - tier: pro
//	    name: Pro
//	    quota: 10
//	    price_ref: pri_01abc
//	    features: [advanced_analysis, recurring_refresh]
type YAMLSource string

func (s YAMLSource) Load(_ context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(string(s))
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	return doc.Plans, nil
}
