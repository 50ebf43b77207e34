package listing

import "errors"

var (
	ErrNotFound     = errors.New("listing not found")
	ErrStoreWrite   = errors.New("listing store write failed")
	ErrMissingOwner = errors.New("owner account ID is required")
	ErrMissingURL   = errors.New("listing URL is required")
)
