package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper short-circuits webhook events that were already fully processed.
// It is a fast path, not a correctness mechanism: every transition is
// idempotent on its own, so a deduper failing open is harmless.
type Deduper interface {
	// Seen reports whether the event ID was already marked processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event ID after successful processing, so a
	// failed attempt stays eligible for the provider's redelivery.
	MarkProcessed(ctx context.Context, eventID string) error
}

// DedupConfig configures the redis-backed event deduper.
type DedupConfig struct {
	RedisURL string        `env:"REDIS_URL"`
	TTL      time.Duration `env:"BILLING_DEDUP_TTL" envDefault:"72h"`
}

// RedisDeduper implements Deduper on redis with a TTL matching the
// provider's redelivery horizon.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a redis-backed deduper from a connection URL.
func NewRedisDeduper(cfg DedupConfig) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

func dedupKey(eventID string) string {
	return "billing:event:" + eventID
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, dedupKey(eventID), "1", d.ttl).Err()
}

// Close releases the underlying redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// MemoryDeduper implements Deduper in memory for tests and single-instance
// development runs.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.seen[eventID]
	return exists, nil
}

func (d *MemoryDeduper) MarkProcessed(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = struct{}{}
	return nil
}
