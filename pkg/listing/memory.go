package listing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Listing

	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[uuid.UUID]Listing),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, l *Listing) error {
	if l.OwnerAccountID == uuid.Nil {
		return ErrMissingOwner
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	s.rows[l.ID] = *l
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.rows[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *MemoryStore) CountByOwner(_ context.Context, ownerAccountID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, l := range s.rows {
		if l.OwnerAccountID == ownerAccountID && l.Status != StatusRejected {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkRefreshed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.rows[id]
	if !exists {
		return ErrNotFound
	}
	if l.LastRefreshedAt == nil || at.After(*l.LastRefreshedAt) {
		l.LastRefreshedAt = &at
	}
	l.UpdatedAt = s.Now()
	s.rows[id] = l
	return nil
}

func (s *MemoryStore) ExtendBoost(_ context.Context, id uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.rows[id]
	if !exists {
		return ErrNotFound
	}
	if l.BoostedUntil == nil || until.After(*l.BoostedUntil) {
		l.BoostedUntil = &until
	}
	l.UpdatedAt = s.Now()
	s.rows[id] = l
	return nil
}

func (s *MemoryStore) ListStaleApproved(_ context.Context, cutoff time.Time) ([]Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Listing, 0)
	for _, l := range s.rows {
		if l.Status != StatusApproved {
			continue
		}
		if l.LastRefreshedAt == nil || !l.LastRefreshedAt.After(cutoff) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Listing) int {
		if c := slices.Compare(a.OwnerAccountID[:], b.OwnerAccountID[:]); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
