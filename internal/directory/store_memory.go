package directory

import (
	"context"
	"fmt"
	"sync"

	id "blockcreds/pkg/domain"
	"blockcreds/pkg/platform/sentinel"
)

// InMemoryStore keeps directory entries in maps guarded by one lock.
type InMemoryStore struct {
	mu      sync.RWMutex
	byRef   map[id.UserID]*Person
	byEmail map[string]id.UserID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byRef:   make(map[id.UserID]*Person),
		byEmail: make(map[string]id.UserID),
	}
}

func (s *InMemoryStore) FindOrCreateByEmail(_ context.Context, email string, candidate *Person) (*Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.byEmail[email]; ok {
		p := *s.byRef[ref]
		return &p, nil
	}
	stored := *candidate
	stored.Email = email
	s.byRef[stored.Ref] = &stored
	s.byEmail[email] = stored.Ref
	p := stored
	return &p, nil
}

func (s *InMemoryStore) FindByRef(_ context.Context, ref id.UserID) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("person not found: %w", sentinel.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Save inserts or replaces the entry for p.Ref. An email held by another
// reference is a conflict.
func (s *InMemoryStore) Save(_ context.Context, p *Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byEmail[p.Email]; ok && owner != p.Ref {
		return fmt.Errorf("email already registered: %w", sentinel.ErrConflict)
	}
	if prev, ok := s.byRef[p.Ref]; ok && prev.Email != p.Email {
		delete(s.byEmail, prev.Email)
	}
	stored := *p
	s.byRef[p.Ref] = &stored
	s.byEmail[p.Email] = p.Ref
	return nil
}

var _ Store = (*InMemoryStore)(nil)
