package listing

import (
	"time"

	"github.com/google/uuid"
)

// Status is the moderation state of a directory listing.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// RefreshStatus is the derived freshness of a listing's content. It is never
// stored; compute it from LastRefreshedAt and the freshness window.
type RefreshStatus string

const (
	RefreshFresh RefreshStatus = "fresh"
	RefreshStale RefreshStatus = "stale"
)

// DefaultFreshnessWindow is the rolling period after which listing content
// is considered stale and due for a refresh.
const DefaultFreshnessWindow = 90 * 24 * time.Hour

// Listing is a single directory entry owned by an account.
type Listing struct {
	ID              uuid.UUID
	OwnerAccountID  uuid.UUID
	Title           string
	URL             string
	Status          Status
	LastRefreshedAt *time.Time // nil until the first refresh
	BoostedUntil    *time.Time // nil unless a boost purchase is live
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefreshStatusAt derives freshness at a point in time: fresh iff the
// listing was refreshed strictly less than window ago.
func (l *Listing) RefreshStatusAt(now time.Time, window time.Duration) RefreshStatus {
	if l.LastRefreshedAt == nil {
		return RefreshStale
	}
	if now.Sub(*l.LastRefreshedAt) < window {
		return RefreshFresh
	}
	return RefreshStale
}

// Boosted reports whether a boost purchase is live at the given time.
func (l *Listing) Boosted(now time.Time) bool {
	return l.BoostedUntil != nil && now.Before(*l.BoostedUntil)
}
