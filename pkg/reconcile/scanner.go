package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/listing"
	"github.com/promptdir/entitlement/pkg/notify"
)

// Config holds reconciliation sweep configuration.
type Config struct {
	// Lookahead is how far ahead of expiry the renewal reminder fires.
	Lookahead time.Duration `env:"RECONCILE_LOOKAHEAD" envDefault:"168h"`

	// FreshnessWindow is the rolling period after which listing content
	// counts as stale.
	FreshnessWindow time.Duration `env:"RECONCILE_FRESHNESS_WINDOW" envDefault:"2160h"`

	// Interval is how often the background runner sweeps. The sweep is also
	// exposed over HTTP for an external scheduler.
	Interval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"24h"`
}

// Scanner is the safety net behind the webhook processor: a scheduled,
// idempotent sweep that reads the stores and drives notifications. It never
// writes payment status or validity; lapsing is derived, not pushed.
type Scanner struct {
	entitlements entitlement.Store
	listings     listing.Store
	notifLog     notify.LogStore
	notifier     notify.Notifier
	cfg          Config
	log          *slog.Logger

	now func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the scanner clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScanner creates a reconciliation scanner. Panics on nil dependencies.
func NewScanner(entitlements entitlement.Store, listings listing.Store, notifLog notify.LogStore, notifier notify.Notifier, cfg Config, log *slog.Logger, opts ...Option) *Scanner {
	if entitlements == nil {
		panic("reconcile: entitlement store is required")
	}
	if listings == nil {
		panic("reconcile: listing store is required")
	}
	if notifLog == nil {
		panic("reconcile: notification log is required")
	}
	if notifier == nil {
		panic("reconcile: notifier is required")
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 7 * 24 * time.Hour
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = listing.DefaultFreshnessWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scanner{
		entitlements: entitlements,
		listings:     listings,
		notifLog:     notifLog,
		notifier:     notifier,
		cfg:          cfg,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one full sweep. Safe to re-run after failure and to run
// concurrently with itself: the notification log arbitrates sends, and
// nothing here mutates entitlement state.
func (s *Scanner) Run(ctx context.Context) error {
	started := s.now()
	err := errors.Join(
		s.sweepExpiring(ctx, started),
		s.sweepLapsedTrials(ctx, started),
		s.sweepStaleListings(ctx, started),
	)
	s.log.InfoContext(ctx, "reconciliation sweep finished",
		slog.Duration("took", s.now().Sub(started)),
		slog.Bool("ok", err == nil))
	return err
}

// sweepExpiring reminds provider-billed accounts whose paid window ends
// inside the lookahead. The period key is anchored to the expiry date, so
// each upcoming expiry produces at most one reminder no matter how often
// the sweep runs.
func (s *Scanner) sweepExpiring(ctx context.Context, now time.Time) error {
	expiring, err := s.entitlements.ListExpiringPaid(ctx, now, now.Add(s.cfg.Lookahead))
	if err != nil {
		return fmt.Errorf("list expiring entitlements: %w", err)
	}

	for _, e := range expiring {
		s.notifyOnce(ctx, e.AccountID, notify.TypeRenewalReminder,
			e.ValidUntil.Format("2006-01-02"),
			map[string]any{
				"plan":        string(e.Plan),
				"valid_until": e.ValidUntil.Format("2006-01-02"),
			})
	}
	return nil
}

// sweepLapsedTrials notifies accounts whose trial window has passed. No
// state mutation is needed: access is already derived as lapsed.
func (s *Scanner) sweepLapsedTrials(ctx context.Context, now time.Time) error {
	lapsed, err := s.entitlements.ListLapsedTrials(ctx, now)
	if err != nil {
		return fmt.Errorf("list lapsed trials: %w", err)
	}

	for _, e := range lapsed {
		s.notifyOnce(ctx, e.AccountID, notify.TypeTrialEnded,
			e.ValidUntil.Format("2006-01-02"),
			map[string]any{
				"valid_until": e.ValidUntil.Format("2006-01-02"),
			})
	}
	return nil
}

// sweepStaleListings batches refresh reminders per owner, at most once per
// calendar month.
func (s *Scanner) sweepStaleListings(ctx context.Context, now time.Time) error {
	stale, err := s.listings.ListStaleApproved(ctx, now.Add(-s.cfg.FreshnessWindow))
	if err != nil {
		return fmt.Errorf("list stale listings: %w", err)
	}

	counts := make(map[uuid.UUID]int)
	for _, l := range stale {
		counts[l.OwnerAccountID]++
	}

	period := now.Format("2006-01")
	windowDays := int(s.cfg.FreshnessWindow.Hours() / 24)
	for owner, count := range counts {
		s.notifyOnce(ctx, owner, notify.TypeRefreshNeeded, period,
			map[string]any{
				"count":       count,
				"window_days": windowDays,
			})
	}
	return nil
}

// notifyOnce claims the (account, type, period) slot and sends. Send
// failures are logged only: notifications are best-effort and must never
// fail the sweep, but the claim is not released either, so a flaky mailer
// cannot turn into a reminder storm.
func (s *Scanner) notifyOnce(ctx context.Context, accountID uuid.UUID, t notify.Type, period string, data map[string]any) {
	claimed, err := s.notifLog.Claim(ctx, accountID, t, period)
	if err != nil {
		s.log.ErrorContext(ctx, "notification claim failed",
			slog.String("account_id", accountID.String()),
			slog.String("type", string(t)),
			slog.Any("error", err))
		return
	}
	if !claimed {
		return
	}

	if err := s.notifier.Send(ctx, notify.Notification{
		AccountID: accountID,
		Type:      t,
		Data:      data,
	}); err != nil {
		s.log.ErrorContext(ctx, "notification send failed",
			slog.String("account_id", accountID.String()),
			slog.String("type", string(t)),
			slog.Any("error", err))
	}
}
