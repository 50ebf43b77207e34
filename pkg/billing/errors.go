package billing

import "errors"

var (
	// ErrSignatureInvalid means webhook signature verification failed. Not
	// retryable: either the payload is forged or the secret is wrong.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrProviderUnreachable wraps transient provider API failures. Callers
	// surface it as retryable.
	ErrProviderUnreachable = errors.New("billing provider unreachable")

	ErrMissingAccount      = errors.New("account ID is required")
	ErrMissingPriceRef     = errors.New("price ref is required")
	ErrMissingListing      = errors.New("listing ID is required for this purchase type")
	ErrInvalidPurchaseType = errors.New("invalid purchase type")
	ErrNoCheckoutURL       = errors.New("no checkout URL returned from provider")
	ErrMissingCorrelation  = errors.New("event carries no usable correlation key")
)
