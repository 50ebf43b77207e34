package plan

import "errors"

var (
	ErrFailedToLoadPlans   = errors.New("failed to load plan catalog")
	ErrInvalidCatalog      = errors.New("invalid plan catalog configuration")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPriceRefNotFound    = errors.New("no plan configured for price ref")
	ErrDuplicatePriceRef   = errors.New("duplicate price ref in plan catalog")
	ErrUnknownTier         = errors.New("unknown plan tier")
	ErrNonPositiveQuota    = errors.New("plan quota must be positive")
	ErrMissingFreeTier     = errors.New("plan catalog must define the free tier")
	ErrUnknownPlanFeature  = errors.New("unknown plan feature")
)
