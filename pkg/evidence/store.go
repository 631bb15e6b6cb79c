package evidence

import (
	"context"
	"sync"
)

// Store persists sealed packs. Save is all-or-nothing: the pack and its
// chain entry become visible together or not at all.
type Store interface {
	Save(ctx context.Context, p *Pack) error
	Get(ctx context.Context, tenantID, id string) (*Pack, error)
	// Latest returns the tenant's newest pack by chain index, or
	// ErrNotFound when the tenant has none.
	Latest(ctx context.Context, tenantID string) (*Pack, error)
	List(ctx context.Context, tenantID string) ([]Pack, error)
	// Delete removes a pack. Only the builder calls it, to roll back a
	// save whose audit emission failed; packs are otherwise immutable.
	Delete(ctx context.Context, tenantID, id string) error
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu    sync.RWMutex
	packs map[string][]Pack // tenantID -> packs ordered by chain index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{packs: make(map[string][]Pack)}
}

func (s *MemoryStore) Save(ctx context.Context, p *Pack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[p.TenantID] = append(s.packs[p.TenantID], *p)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.packs[tenantID] {
		if p.ID == id {
			clone := p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Latest(ctx context.Context, tenantID string) (*Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	packs := s.packs[tenantID]
	if len(packs) == 0 {
		return nil, ErrNotFound
	}
	clone := packs[len(packs)-1]
	return &clone, nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	packs := s.packs[tenantID]
	for i, p := range packs {
		if p.ID == id {
			s.packs[tenantID] = append(packs[:i], packs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, tenantID string) ([]Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pack, len(s.packs[tenantID]))
	copy(out, s.packs[tenantID])
	return out, nil
}
