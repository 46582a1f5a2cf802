package memory

import (
	"context"
	"sync"

	audit "blockcreds/pkg/platform/audit"
)

// InMemoryStore keeps events in process. Used in tests and the demo
// configuration.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

var _ audit.Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// All returns a copy of every event in append order.
func (s *InMemoryStore) All() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event(nil), s.events...)
}

// ByAction returns the events recorded for action, in append order.
func (s *InMemoryStore) ByAction(action audit.Action) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
