package entitlement

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same merge semantics as the
// postgres implementation. It backs unit tests and local development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Entitlement

	// Now is overridable so tests can pin the clock.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[uuid.UUID]Entitlement),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(_ context.Context, accountID uuid.UUID) (*Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.rows[accountID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneEntitlement(e), nil
}

func (s *MemoryStore) Upsert(_ context.Context, accountID uuid.UUID, patch Patch) (*Entitlement, error) {
	if accountID == uuid.Nil {
		return nil, ErrMissingAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	e, exists := s.rows[accountID]
	if !exists {
		e = Entitlement{
			AccountID:     accountID,
			Plan:          "free",
			ValidFrom:     now,
			ValidUntil:    now,
			PaymentStatus: PaymentNone,
			Source:        SourceNone,
			CreatedAt:     now,
		}
	}

	if patch.Plan != nil {
		e.Plan = *patch.Plan
	}
	if patch.Quota != nil {
		e.Quota = *patch.Quota
	}
	if patch.ValidFrom != nil {
		e.ValidFrom = *patch.ValidFrom
	}
	if patch.ValidUntil != nil {
		next := *patch.ValidUntil
		if patch.MonotonicValidUntil && exists &&
			e.PaymentStatus == PaymentActive && next.Before(e.ValidUntil) {
			next = e.ValidUntil
		}
		e.ValidUntil = next
	}
	if e.BillingCustomerRef == "" && patch.BillingCustomerRef != nil {
		e.BillingCustomerRef = *patch.BillingCustomerRef
	}
	if patch.ClearSubscriptionRef {
		e.BillingSubscriptionRef = ""
	} else if e.BillingSubscriptionRef == "" && patch.BillingSubscriptionRef != nil {
		e.BillingSubscriptionRef = *patch.BillingSubscriptionRef
	}
	if patch.PaymentStatus != nil {
		e.PaymentStatus = *patch.PaymentStatus
	}
	if patch.Source != nil {
		e.Source = *patch.Source
	}
	if patch.Features != nil {
		e.Features = slices.Clone(patch.Features)
	}
	e.UpdatedAt = now

	s.rows[accountID] = e
	return cloneEntitlement(e), nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, e *Entitlement) (bool, error) {
	if e == nil || e.AccountID == uuid.Nil {
		return false, ErrMissingAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[e.AccountID]; exists {
		return false, nil
	}

	row := *cloneEntitlement(*e)
	now := s.Now()
	row.CreatedAt = now
	row.UpdatedAt = now
	s.rows[e.AccountID] = row
	return true, nil
}

func (s *MemoryStore) ExtendValidity(_ context.Context, accountID uuid.UUID, by time.Duration) (*Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.rows[accountID]
	if !exists {
		return nil, ErrNotFound
	}

	now := s.Now()
	base := e.ValidUntil
	if now.After(base) {
		base = now
	}
	e.ValidUntil = base.Add(by)
	e.UpdatedAt = now
	s.rows[accountID] = e
	return cloneEntitlement(e), nil
}

func (s *MemoryStore) FindBySubscriptionRef(_ context.Context, ref string) (*Entitlement, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.rows {
		if e.BillingSubscriptionRef == ref {
			return cloneEntitlement(e), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByCustomerRef(_ context.Context, ref string) (*Entitlement, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.rows {
		if e.BillingCustomerRef == ref {
			return cloneEntitlement(e), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListExpiringPaid(_ context.Context, now, until time.Time) ([]Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entitlement, 0)
	for _, e := range s.rows {
		if e.BillingSubscriptionRef != "" && e.ValidUntil.After(now) && !e.ValidUntil.After(until) {
			out = append(out, *cloneEntitlement(e))
		}
	}
	sortByValidUntil(out)
	return out, nil
}

func (s *MemoryStore) ListLapsedTrials(_ context.Context, asOf time.Time) ([]Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entitlement, 0)
	for _, e := range s.rows {
		if e.Source == SourceTrial && e.BillingSubscriptionRef == "" && !e.ValidUntil.After(asOf) {
			out = append(out, *cloneEntitlement(e))
		}
	}
	sortByValidUntil(out)
	return out, nil
}

func sortByValidUntil(list []Entitlement) {
	slices.SortFunc(list, func(a, b Entitlement) int {
		return a.ValidUntil.Compare(b.ValidUntil)
	})
}

func cloneEntitlement(e Entitlement) *Entitlement {
	e.Features = slices.Clone(e.Features)
	return &e
}
