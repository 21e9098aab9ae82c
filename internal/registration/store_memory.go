package registration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
)

type donorEventKey struct {
	donor id.DonorID
	event id.EventID
}

// InMemoryStore keeps registrations in memory for tests and dev. The
// active-slot index is maintained under the same lock as the records, so
// the one-active-registration invariant holds under concurrent Create.
type InMemoryStore struct {
	mu            sync.RWMutex
	registrations map[id.RegistrationID]*Registration
	activeSlot    map[donorEventKey]id.RegistrationID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		registrations: make(map[id.RegistrationID]*Registration),
		activeSlot:    make(map[donorEventKey]id.RegistrationID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := donorEventKey{donor: reg.DonorID, event: reg.EventID}
	if _, ok := s.activeSlot[key]; ok {
		return fmt.Errorf("donor already registered for event: %w", sentinel.ErrConflict)
	}
	clone := *reg
	s.registrations[reg.ID] = &clone
	if reg.IsActive() {
		s.activeSlot[key] = reg.ID
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, regID id.RegistrationID) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[regID]
	if !ok {
		return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
	}
	clone := *r
	return &clone, nil
}

func (s *InMemoryStore) ListByEvent(_ context.Context, eventID id.EventID) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Registration
	for _, r := range s.registrations {
		if r.EventID == eventID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryStore) ListByDonor(_ context.Context, donorID id.DonorID) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Registration
	for _, r := range s.registrations {
		if r.DonorID == donorID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryStore) CountActiveByEvent(_ context.Context, eventID id.EventID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.activeSlot {
		if key.event == eventID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Execute(_ context.Context, regID id.RegistrationID,
	validate func(*Registration) error,
	mutate func(*Registration)) (*Registration, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[regID]
	if !ok {
		return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(r); err != nil {
		return nil, err
	}
	mutate(r)
	r.Version++
	if !r.IsActive() {
		delete(s.activeSlot, donorEventKey{donor: r.DonorID, event: r.EventID})
	}
	clone := *r
	return &clone, nil
}

func sortByCreation(regs []*Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
}
