package event

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
)

// InMemoryStore keeps events in memory for tests and dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.EventID]*DonationEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.EventID]*DonationEvent)}
}

func (s *InMemoryStore) Create(_ context.Context, event *DonationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *event
	s.events[event.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, eventID id.EventID) (*DonationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event not found: %w", sentinel.ErrNotFound)
	}
	clone := *e
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*DonationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DonationEvent, 0, len(s.events))
	for _, e := range s.events {
		clone := *e
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, eventID id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return fmt.Errorf("event not found: %w", sentinel.ErrNotFound)
	}
	delete(s.events, eventID)
	return nil
}

func (s *InMemoryStore) Execute(_ context.Context, eventID id.EventID,
	validate func(*DonationEvent) error,
	mutate func(*DonationEvent)) (*DonationEvent, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(e); err != nil {
		return nil, err
	}
	mutate(e)
	e.Version++
	clone := *e
	return &clone, nil
}
