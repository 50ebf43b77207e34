package entitlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry records a manual entitlement mutation. Administrative changes
// bypass the payment provider, so they get their own durable trail.
type AuditEntry struct {
	ActorID   uuid.UUID
	AccountID uuid.UUID
	Action    string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists administrative audit entries.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// PostgresAuditStore writes audit entries to the admin_audit table.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &PostgresAuditStore{pool: pool}
}

func (s *PostgresAuditStore) Record(ctx context.Context, entry AuditEntry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO admin_audit (actor_id, account_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		entry.ActorID, entry.AccountID, entry.Action, detail)
	return err
}

// MemoryAuditStore collects entries in memory for tests.
type MemoryAuditStore struct {
	Entries []AuditEntry
}

func (s *MemoryAuditStore) Record(_ context.Context, entry AuditEntry) error {
	s.Entries = append(s.Entries, entry)
	return nil
}
