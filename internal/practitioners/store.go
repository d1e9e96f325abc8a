package practitioners

import (
	"context"
	"sync"
	"time"
)

// Store persists profiles and performs the credit arithmetic atomically.
type Store interface {
	Get(ctx context.Context, id string) (Profile, error)
	// Ensure returns the profile, creating a free one with credits on first sight.
	Ensure(ctx context.Context, id string, credits int) (Profile, error)
	// ConsumeCredit takes one credit from a free profile and returns what is
	// left. Premium profiles are never decremented.
	ConsumeCredit(ctx context.Context, id string) (int, error)
	RefundCredit(ctx context.Context, id string) error
	UpdateDisplay(ctx context.Context, id string, d Display) (Profile, error)
}

// InMemoryStore is a Store for development and tests.
type InMemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

// Put inserts or replaces a profile.
func (s *InMemoryStore) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Plan == "" {
		p.Plan = PlanFree
	}
	s.profiles[p.ID] = p
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *InMemoryStore) Ensure(ctx context.Context, id string, credits int) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	p := Profile{ID: id, Plan: PlanFree, CreditsFree: credits, CreatedAt: time.Now().UTC()}
	s.profiles[id] = p
	return p, nil
}

func (s *InMemoryStore) ConsumeCredit(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return 0, ErrProfileNotFound
	}
	if p.Plan == PlanPremium {
		return p.CreditsFree, nil
	}
	if p.CreditsFree <= 0 {
		return 0, ErrNoCredits
	}
	p.CreditsFree--
	s.profiles[id] = p
	return p.CreditsFree, nil
}

func (s *InMemoryStore) RefundCredit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return ErrProfileNotFound
	}
	if p.Plan == PlanFree {
		p.CreditsFree++
		s.profiles[id] = p
	}
	return nil
}

func (s *InMemoryStore) UpdateDisplay(ctx context.Context, id string, d Display) (Profile, error) {
	if err := d.Validate(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	p = p.withDisplay(d)
	s.profiles[id] = p
	return p, nil
}
