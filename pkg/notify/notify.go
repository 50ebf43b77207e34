package notify

import (
	"context"

	"github.com/google/uuid"
)

// Type identifies a notification template.
type Type string

const (
	TypeRenewalReminder Type = "renewal_reminder"
	TypeTrialEnded      Type = "trial_ended"
	TypeRefreshNeeded   Type = "refresh_needed"
)

// Notification is a single message to an account. Data carries the
// template's variables (expiry dates, listing titles and so on).
type Notification struct {
	AccountID uuid.UUID
	Type      Type
	Data      map[string]any
}

// Notifier delivers a notification. Delivery is best-effort: callers must
// treat failures as log-only and never let them block entitlement writes.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Directory resolves the contact address for an account. Account identity
// is owned by the authentication collaborator, so the engine only sees this
// narrow lookup.
type Directory interface {
	EmailFor(ctx context.Context, accountID uuid.UUID) (string, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context, accountID uuid.UUID) (string, error)

func (f DirectoryFunc) EmailFor(ctx context.Context, accountID uuid.UUID) (string, error) {
	return f(ctx, accountID)
}
