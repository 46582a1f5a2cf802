package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"blockcreds/internal/credential/models"
	"blockcreds/pkg/platform/sentinel"
)

// InMemoryStore keeps credentials in process memory. Safe for concurrent
// use; nothing survives a restart.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[models.CredentialID]*models.Credential
	byCode map[string]models.CredentialID // stored code, exact form
	keys   map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[models.CredentialID]*models.Credential),
		byCode: make(map[string]models.CredentialID),
		keys:   make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.VerificationCode.Key()
	if _, taken := s.keys[key]; taken {
		return sentinel.ErrConflict
	}
	if _, taken := s.byID[c.ID]; taken {
		return sentinel.ErrConflict
	}
	s.byID[c.ID] = clone(c)
	s.byCode[c.VerificationCode.String()] = c.ID
	s.keys[key] = struct{}{}
	return nil
}

func (s *InMemoryStore) FindByCode(_ context.Context, code models.VerificationCode) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.lookup(code)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id models.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) Exists(_ context.Context, code models.VerificationCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.lookup(code)
	return ok, nil
}

// lookup must be called with s.mu held.
func (s *InMemoryStore) lookup(code models.VerificationCode) (models.CredentialID, bool) {
	for _, form := range code.LookupForms() {
		if id, ok := s.byCode[form]; ok {
			return id, true
		}
	}
	return "", false
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id models.CredentialID, status models.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) UpdateOnChainState(_ context.Context, id models.CredentialID, state models.OnChainState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.OnChainState = state
	checked := at
	c.OnChainCheckedAt = &checked
	return nil
}

func clone(c *models.Credential) *models.Credential {
	out := *c
	out.Fields = maps.Clone(c.Fields)
	if c.ReferenceImage != nil {
		out.ReferenceImage = append([]byte(nil), c.ReferenceImage...)
	}
	return &out
}
