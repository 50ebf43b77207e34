package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptdir/entitlement/pkg/pg"
	"github.com/promptdir/entitlement/pkg/plan"
)

// PostgresStore implements Store on a pgx connection pool. Every mutation is
// a single INSERT .. ON CONFLICT statement so two webhook deliveries racing
// on the same account cannot lose an update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const entitlementColumns = `account_id, plan, quota, valid_from, valid_until,
	billing_customer_ref, billing_subscription_ref, payment_status, source,
	features, created_at, updated_at`

func scanEntitlement(row pgx.Row) (*Entitlement, error) {
	var (
		e        Entitlement
		tier     string
		status   string
		source   string
		features []string
	)
	err := row.Scan(&e.AccountID, &tier, &e.Quota, &e.ValidFrom, &e.ValidUntil,
		&e.BillingCustomerRef, &e.BillingSubscriptionRef, &status, &source,
		&features, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Plan = plan.Tier(tier)
	e.PaymentStatus = PaymentStatus(status)
	e.Source = Source(source)
	e.Features = make([]plan.Feature, len(features))
	for i, f := range features {
		e.Features[i] = plan.Feature(f)
	}
	return &e, nil
}

func featureStrings(features []plan.Feature) []string {
	if features == nil {
		return nil
	}
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = string(f)
	}
	return out
}

func (s *PostgresStore) Get(ctx context.Context, accountID uuid.UUID) (*Entitlement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE account_id = $1`,
		accountID)
	return scanEntitlement(row)
}

// Upsert merges the patch in one statement. COALESCE keeps unpatched fields,
// NULLIF guards correlation refs against being blanked by an empty value,
// and the CASE on valid_until implements the monotonic floor for renewals.
func (s *PostgresStore) Upsert(ctx context.Context, accountID uuid.UUID, patch Patch) (*Entitlement, error) {
	if accountID == uuid.Nil {
		return nil, ErrMissingAccount
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO entitlements (
			account_id, plan, quota, valid_from, valid_until,
			billing_customer_ref, billing_subscription_ref,
			payment_status, source, features
		) VALUES (
			$1,
			COALESCE($2, 'free'),
			COALESCE($3, 0),
			COALESCE($4, now()),
			COALESCE($5, now()),
			COALESCE(NULLIF($6, ''), ''),
			COALESCE(NULLIF($7, ''), ''),
			COALESCE($8, 'none'),
			COALESCE($9, 'none'),
			COALESCE($10, '{}'::text[])
		)
		ON CONFLICT (account_id) DO UPDATE SET
			plan       = COALESCE($2, entitlements.plan),
			quota      = COALESCE($3, entitlements.quota),
			valid_from = COALESCE($4, entitlements.valid_from),
			valid_until = CASE
				WHEN $12 AND entitlements.payment_status = 'active'
					THEN GREATEST(entitlements.valid_until, COALESCE($5, entitlements.valid_until))
				ELSE COALESCE($5, entitlements.valid_until)
			END,
			billing_customer_ref     = COALESCE(NULLIF(entitlements.billing_customer_ref, ''), NULLIF($6, ''), ''),
			billing_subscription_ref = CASE
				WHEN $11 THEN ''
				ELSE COALESCE(NULLIF(entitlements.billing_subscription_ref, ''), NULLIF($7, ''), '')
			END,
			payment_status = COALESCE($8, entitlements.payment_status),
			source         = COALESCE($9, entitlements.source),
			features       = COALESCE($10, entitlements.features),
			updated_at     = now()
		RETURNING `+entitlementColumns,
		accountID,
		tierArg(patch.Plan),
		patch.Quota,
		patch.ValidFrom,
		patch.ValidUntil,
		strArg(patch.BillingCustomerRef),
		strArg(patch.BillingSubscriptionRef),
		statusArg(patch.PaymentStatus),
		sourceArg(patch.Source),
		featureStrings(patch.Features),
		patch.ClearSubscriptionRef,
		patch.MonotonicValidUntil,
	)

	e, err := scanEntitlement(row)
	if err != nil {
		return nil, errors.Join(ErrStoreWrite, err)
	}
	return e, nil
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, e *Entitlement) (bool, error) {
	if e == nil || e.AccountID == uuid.Nil {
		return false, ErrMissingAccount
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO entitlements (
			account_id, plan, quota, valid_from, valid_until,
			billing_customer_ref, billing_subscription_ref,
			payment_status, source, features
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, '{}'::text[]))
		ON CONFLICT (account_id) DO NOTHING`,
		e.AccountID, string(e.Plan), e.Quota, e.ValidFrom, e.ValidUntil,
		e.BillingCustomerRef, e.BillingSubscriptionRef,
		string(e.PaymentStatus), string(e.Source), featureStrings(e.Features))
	if err != nil {
		return false, errors.Join(ErrStoreWrite, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ExtendValidity(ctx context.Context, accountID uuid.UUID, by time.Duration) (*Entitlement, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE entitlements
		SET valid_until = GREATEST(valid_until, now()) + make_interval(secs => $2),
		    updated_at  = now()
		WHERE account_id = $1
		RETURNING `+entitlementColumns,
		accountID, by.Seconds())
	e, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrStoreWrite, err)
	}
	return e, nil
}

func (s *PostgresStore) FindBySubscriptionRef(ctx context.Context, ref string) (*Entitlement, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE billing_subscription_ref = $1`,
		ref)
	return scanEntitlement(row)
}

func (s *PostgresStore) FindByCustomerRef(ctx context.Context, ref string) (*Entitlement, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE billing_customer_ref = $1`,
		ref)
	return scanEntitlement(row)
}

func (s *PostgresStore) ListExpiringPaid(ctx context.Context, now, until time.Time) ([]Entitlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE billing_subscription_ref <> ''
		   AND valid_until > $1 AND valid_until <= $2
		 ORDER BY valid_until`,
		now, until)
	if err != nil {
		return nil, err
	}
	return collectEntitlements(rows)
}

func (s *PostgresStore) ListLapsedTrials(ctx context.Context, asOf time.Time) ([]Entitlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE source = 'trial'
		   AND billing_subscription_ref = ''
		   AND valid_until <= $1
		 ORDER BY valid_until`,
		asOf)
	if err != nil {
		return nil, err
	}
	return collectEntitlements(rows)
}

func collectEntitlements(rows pgx.Rows) ([]Entitlement, error) {
	defer rows.Close()

	out := make([]Entitlement, 0)
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Nullable argument helpers: pgx maps nil pointers to SQL NULL, which the
// COALESCE branches above interpret as "leave unchanged".

func tierArg(t *plan.Tier) *string {
	if t == nil {
		return nil
	}
	return ptr(string(*t))
}

func strArg(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func statusArg(p *PaymentStatus) *string {
	if p == nil {
		return nil
	}
	return ptr(string(*p))
}

func sourceArg(s *Source) *string {
	if s == nil {
		return nil
	}
	return ptr(string(*s))
}
