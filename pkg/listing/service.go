package listing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/entitlement"
)

// Service handles listing submission. Submission is the qualifying action
// for trial activation: the first listing an account ever submits creates
// its entitlement row.
type Service struct {
	store        Store
	entitlements *entitlement.Service
	log          *slog.Logger
	now          func() time.Time
}

// NewService creates a listing service. Panics on nil dependencies.
func NewService(store Store, entitlements *entitlement.Service, log *slog.Logger) *Service {
	if store == nil {
		panic("listing: Store is required")
	}
	if entitlements == nil {
		panic("listing: entitlement service is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:        store,
		entitlements: entitlements,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a pending listing for the owner. Ordering matters: the
// trial activation runs first so a brand-new account has an entitlement row
// before the quota gate reads it.
func (s *Service) Submit(ctx context.Context, ownerAccountID uuid.UUID, title, url string) (*Listing, error) {
	if ownerAccountID == uuid.Nil {
		return nil, ErrMissingOwner
	}
	if strings.TrimSpace(url) == "" {
		return nil, ErrMissingURL
	}

	_, created, err := s.entitlements.ActivateTrial(ctx, ownerAccountID)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.InfoContext(ctx, "first submission, trial entitlement created",
			slog.String("account_id", ownerAccountID.String()))
	}

	count, err := s.store.CountByOwner(ctx, ownerAccountID)
	if err != nil {
		return nil, err
	}
	if err := s.entitlements.CanCreateListing(ctx, ownerAccountID, count); err != nil {
		return nil, err
	}

	l := &Listing{
		OwnerAccountID: ownerAccountID,
		Title:          strings.TrimSpace(title),
		URL:            strings.TrimSpace(url),
		Status:         StatusPending,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}
