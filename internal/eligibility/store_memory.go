package eligibility

import (
	"context"
	"fmt"
	"sync"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
)

// InMemoryStore keeps profiles in memory for tests and dev. Execute holds
// the store lock across validate and mutate, which is the single-writer
// guarantee the service relies on.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.ProfileID]*MedicalProfile
	byDonor  map[id.DonorID]id.ProfileID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[id.ProfileID]*MedicalProfile),
		byDonor:  make(map[id.DonorID]id.ProfileID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, profile *MedicalProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byDonor[profile.DonorID]; ok {
		return fmt.Errorf("donor already has a profile: %w", sentinel.ErrConflict)
	}
	clone := *profile
	s.profiles[profile.ID] = &clone
	s.byDonor[profile.DonorID] = profile.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, profileID id.ProfileID) (*MedicalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
	}
	clone := *p
	return &clone, nil
}

func (s *InMemoryStore) FindByDonor(_ context.Context, donorID id.DonorID) (*MedicalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byDonor[donorID]
	if !ok {
		return nil, fmt.Errorf("profile not found for donor: %w", sentinel.ErrNotFound)
	}
	clone := *s.profiles[pid]
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]*MedicalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MedicalProfile
	for _, p := range s.profiles {
		if filter.State != "" && p.State != filter.State {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, profileID id.ProfileID,
	validate func(*MedicalProfile) error,
	mutate func(*MedicalProfile)) (*MedicalProfile, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	mutate(p)
	p.Version++
	clone := *p
	return &clone, nil
}
