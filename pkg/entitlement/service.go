package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/plan"
)

// Config holds entitlement policy knobs.
type Config struct {
	// TrialDays is the length of the one-time free trial window granted on
	// the first qualifying action.
	TrialDays int `env:"ENTITLEMENT_TRIAL_DAYS" envDefault:"90"`
}

// Service layers policy on top of the Store: one-time trial activation,
// administrative overrides and plan-derived access checks. Provider-driven
// state changes never go through here; they belong to the webhook processor.
type Service struct {
	store   Store
	catalog *plan.Catalog
	audit   AuditStore
	cfg     Config
	log     *slog.Logger

	now func() time.Time
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates an entitlement service. Panics on nil required
// dependencies to fail fast during initialization.
func NewService(store Store, catalog *plan.Catalog, audit AuditStore, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("entitlement: Store is required")
	}
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	if audit == nil {
		panic("entitlement: AuditStore is required")
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 90
	}

	s := &Service{
		store:   store,
		catalog: catalog,
		audit:   audit,
		cfg:     cfg,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the entitlement for an account, or ErrNotFound.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*Entitlement, error) {
	return s.store.Get(ctx, accountID)
}

// ActivateTrial grants the one-time trial window on the account's first
// qualifying action. If the account already has an entitlement of any kind
// the call is a no-op, so the trial is granted exactly once ever, regardless
// of later downgrades. Returns the entitlement and whether it was created.
func (s *Service) ActivateTrial(ctx context.Context, accountID uuid.UUID) (*Entitlement, bool, error) {
	if accountID == uuid.Nil {
		return nil, false, ErrMissingAccount
	}

	free := s.catalog.Free()
	now := s.now()
	trial := &Entitlement{
		AccountID:     accountID,
		Plan:          free.Tier,
		Quota:         free.Quota,
		ValidFrom:     now,
		ValidUntil:    now.AddDate(0, 0, s.cfg.TrialDays),
		PaymentStatus: PaymentNone,
		Source:        SourceTrial,
		Features:      free.Features,
	}

	created, err := s.store.CreateIfAbsent(ctx, trial)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.InfoContext(ctx, "trial activated",
			slog.String("account_id", accountID.String()),
			slog.Time("valid_until", trial.ValidUntil))
		return trial, true, nil
	}

	existing, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GrantEntitlement is the administrative escape hatch: it puts an account on
// a plan for a number of months without any payment provider involvement.
// The resulting entitlement is marked source=gift so reporting can separate
// it from revenue.
func (s *Service) GrantEntitlement(ctx context.Context, actorID, accountID uuid.UUID, tier plan.Tier, months int) (*Entitlement, error) {
	if accountID == uuid.Nil {
		return nil, ErrMissingAccount
	}
	if months < 1 {
		return nil, ErrInvalidMonths
	}

	p, err := s.catalog.ByTier(tier)
	if err != nil {
		return nil, errors.Join(ErrInvalidPlan, err)
	}

	now := s.now()
	patch := PatchFromPlan(p)
	patch.ValidFrom = ptr(now)
	patch.ValidUntil = ptr(now.AddDate(0, months, 0))
	patch.Source = ptr(SourceGift)
	// The provider stays authoritative for paid-up accounts: a short gift on
	// top of a longer active subscription window must not shorten it.
	patch.MonotonicValidUntil = true

	granted, err := s.store.Upsert(ctx, accountID, patch)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, AuditEntry{
		ActorID:   actorID,
		AccountID: accountID,
		Action:    "grant_entitlement",
		Detail: map[string]any{
			"plan":        string(tier),
			"months":      months,
			"valid_until": granted.ValidUntil,
		},
	})
	return granted, nil
}

// MarkPaid flips an account's payment status to active without a provider
// event, for support cases where payment happened out of band.
func (s *Service) MarkPaid(ctx context.Context, actorID, accountID uuid.UUID) (*Entitlement, error) {
	if accountID == uuid.Nil {
		return nil, ErrMissingAccount
	}

	// Ensure the row exists first: MarkPaid on an absent account must not
	// fabricate an active entitlement out of thin air.
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return nil, err
	}

	marked, err := s.store.Upsert(ctx, accountID, Patch{
		PaymentStatus: ptr(PaymentActive),
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, AuditEntry{
		ActorID:   actorID,
		AccountID: accountID,
		Action:    "mark_paid",
		Detail:    map[string]any{"payment_status": string(PaymentActive)},
	})
	return marked, nil
}

// CanCreateListing gates listing creation on the account's quota. The
// current count is supplied by the caller, which owns listing persistence.
func (s *Service) CanCreateListing(ctx context.Context, accountID uuid.UUID, currentCount int64) error {
	e, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if !e.ActiveAt(s.now()) {
		return fmt.Errorf("%w: entitlement lapsed", ErrQuotaExceeded)
	}
	if currentCount >= int64(e.Quota) {
		return ErrQuotaExceeded
	}
	return nil
}

// HasFeature reports whether a feature is available to the account right
// now. Returns false on any error to fail closed.
func (s *Service) HasFeature(ctx context.Context, accountID uuid.UUID, f plan.Feature) bool {
	e, err := s.store.Get(ctx, accountID)
	if err != nil {
		return false
	}
	return e.HasFeature(f)
}

// recordAudit logs the entry and never fails the parent operation: the
// authoritative write already happened, and support tooling re-reads the
// store anyway.
func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.ErrorContext(ctx, "failed to record admin audit entry",
			slog.String("action", entry.Action),
			slog.String("account_id", entry.AccountID.String()),
			slog.Any("error", err))
	}
}
