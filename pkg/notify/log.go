package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptdir/entitlement/pkg/pg"
)

// LogStore enforces at-most-once delivery per (account, type, period). The
// period key is caller-defined: a date for expiry-anchored reminders, a
// month for batched digests.
type LogStore interface {
	// Claim records the intent to send and reports whether this caller won
	// the claim. A false return means the notification was already sent (or
	// claimed) for this period.
	Claim(ctx context.Context, accountID uuid.UUID, t Type, period string) (bool, error)
}

// PostgresLogStore implements LogStore on the notification_log table. The
// primary key on (account_id, notification_type, period) arbitrates the
// claim, so concurrent scanner runs cannot both win a slot.
type PostgresLogStore struct {
	pool *pgxpool.Pool
}

func NewPostgresLogStore(pool *pgxpool.Pool) *PostgresLogStore {
	if pool == nil {
		panic("notify: pgx pool is required")
	}
	return &PostgresLogStore{pool: pool}
}

func (s *PostgresLogStore) Claim(ctx context.Context, accountID uuid.UUID, t Type, period string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_log (account_id, notification_type, period)
		VALUES ($1, $2, $3)`,
		accountID, string(t), period)
	if err != nil {
		// A duplicate key means another run already claimed this slot.
		if pg.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MemoryLogStore implements LogStore in memory for tests.
type MemoryLogStore struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{claims: make(map[string]struct{})}
}

func (s *MemoryLogStore) Claim(_ context.Context, accountID uuid.UUID, t Type, period string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountID.String() + "|" + string(t) + "|" + period
	if _, exists := s.claims[key]; exists {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}
