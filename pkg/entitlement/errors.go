package entitlement

import "errors"

var (
	ErrNotFound       = errors.New("entitlement not found")
	ErrStoreWrite     = errors.New("entitlement store write failed")
	ErrQuotaExceeded  = errors.New("listing quota exceeded for current plan")
	ErrInvalidPlan    = errors.New("invalid plan tier")
	ErrInvalidMonths  = errors.New("grant duration must be at least one month")
	ErrMissingAccount = errors.New("account ID is required")
)
