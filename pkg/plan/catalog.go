package plan

import (
	"context"
	"errors"
	"fmt"
)

// Source defines how plans are loaded into the catalog.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Catalog is an immutable, validated set of plans indexed by tier and by
// provider price ref. Build it once at startup; lookups are read-only and
// safe for concurrent use.
type Catalog struct {
	byTier     map[Tier]Plan
	byPriceRef map[string]Plan
}

// NewCatalog loads and validates plans from the given source.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plan: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	c := &Catalog{
		byTier:     make(map[Tier]Plan, len(plans)),
		byPriceRef: make(map[string]Plan),
	}

	for _, p := range plans {
		if !p.Tier.Valid() {
			return nil, errors.Join(ErrInvalidCatalog, ErrUnknownTier,
				fmt.Errorf("tier %q", p.Tier))
		}
		if p.Quota <= 0 {
			return nil, errors.Join(ErrInvalidCatalog, ErrNonPositiveQuota,
				fmt.Errorf("tier %q has quota %d", p.Tier, p.Quota))
		}
		for _, f := range p.Features {
			switch f {
			case FeatureAdvancedAnalysis, FeatureRecurringRefresh, FeatureMultiSeat:
			default:
				return nil, errors.Join(ErrInvalidCatalog, ErrUnknownPlanFeature,
					fmt.Errorf("tier %q feature %q", p.Tier, f))
			}
		}
		if _, exists := c.byTier[p.Tier]; exists {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("tier %q defined twice", p.Tier))
		}
		c.byTier[p.Tier] = p

		if p.PriceRef != "" {
			if _, exists := c.byPriceRef[p.PriceRef]; exists {
				return nil, errors.Join(ErrInvalidCatalog, ErrDuplicatePriceRef,
					fmt.Errorf("price ref %q", p.PriceRef))
			}
			c.byPriceRef[p.PriceRef] = p
		}
	}

	if _, exists := c.byTier[TierFree]; !exists {
		return nil, errors.Join(ErrInvalidCatalog, ErrMissingFreeTier)
	}

	return c, nil
}

// ByTier returns the plan for a tier.
func (c *Catalog) ByTier(t Tier) (Plan, error) {
	p, exists := c.byTier[t]
	if !exists {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// ByPriceRef returns the plan sold under a provider price ref.
func (c *Catalog) ByPriceRef(ref string) (Plan, error) {
	p, exists := c.byPriceRef[ref]
	if !exists {
		return Plan{}, ErrPriceRefNotFound
	}
	return p, nil
}

// Free returns the free tier plan, which validation guarantees exists.
func (c *Catalog) Free() Plan {
	return c.byTier[TierFree]
}
