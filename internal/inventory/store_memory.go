package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
)

// memoryInventory holds units and components behind one mutex, so the two
// cross-row critical sections (CompleteSeparation, ReserveBatch) are atomic
// without any extra machinery.
type memoryInventory struct {
	mu         sync.RWMutex
	units      map[id.UnitID]*BloodUnit
	components map[id.ComponentID]*SeparatedComponent
	// regSlot enforces at most one unit per registration.
	regSlot map[id.RegistrationID]id.UnitID
	// separated remembers units that ever produced components, so a retried
	// unit cannot be separated twice.
	separated map[id.UnitID]bool
}

// InMemoryUnitStore implements UnitStore over shared in-memory state.
type InMemoryUnitStore struct {
	inv *memoryInventory
}

// InMemoryComponentStore implements ComponentStore over the same state as
// its paired unit store.
type InMemoryComponentStore struct {
	inv *memoryInventory
}

// NewInMemoryStores builds the paired stores for tests and dev.
func NewInMemoryStores() (*InMemoryUnitStore, *InMemoryComponentStore) {
	inv := &memoryInventory{
		units:      make(map[id.UnitID]*BloodUnit),
		components: make(map[id.ComponentID]*SeparatedComponent),
		regSlot:    make(map[id.RegistrationID]id.UnitID),
		separated:  make(map[id.UnitID]bool),
	}
	return &InMemoryUnitStore{inv: inv}, &InMemoryComponentStore{inv: inv}
}

func (s *InMemoryUnitStore) Create(_ context.Context, unit *BloodUnit) error {
	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	if !unit.RegistrationID.IsNil() {
		if _, ok := s.inv.regSlot[unit.RegistrationID]; ok {
			return fmt.Errorf("registration already has a collected unit: %w", sentinel.ErrConflict)
		}
		s.inv.regSlot[unit.RegistrationID] = unit.ID
	}
	clone := *unit
	s.inv.units[unit.ID] = &clone
	return nil
}

func (s *InMemoryUnitStore) FindByID(_ context.Context, unitID id.UnitID) (*BloodUnit, error) {
	s.inv.mu.RLock()
	defer s.inv.mu.RUnlock()
	u, ok := s.inv.units[unitID]
	if !ok {
		return nil, fmt.Errorf("unit not found: %w", sentinel.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (s *InMemoryUnitStore) List(_ context.Context, filter UnitFilter) ([]*BloodUnit, error) {
	s.inv.mu.RLock()
	defer s.inv.mu.RUnlock()
	var out []*BloodUnit
	for _, u := range s.inv.units {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if filter.BloodType != "" && u.BloodType != filter.BloodType {
			continue
		}
		if !filter.DonorID.IsNil() && u.DonorID != filter.DonorID {
			continue
		}
		clone := *u
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectedAt.Before(out[j].CollectedAt) })
	return out, nil
}

func (s *InMemoryUnitStore) Execute(_ context.Context, unitID id.UnitID,
	validate func(*BloodUnit) error,
	mutate func(*BloodUnit)) (*BloodUnit, error) {

	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	u, ok := s.inv.units[unitID]
	if !ok {
		return nil, fmt.Errorf("unit not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(u); err != nil {
		return nil, err
	}
	mutate(u)
	u.Version++
	clone := *u
	return &clone, nil
}

func (s *InMemoryComponentStore) CompleteSeparation(_ context.Context, unitID id.UnitID,
	validate func(*BloodUnit) error,
	components []*SeparatedComponent, now time.Time) (*BloodUnit, error) {

	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	u, ok := s.inv.units[unitID]
	if !ok {
		return nil, fmt.Errorf("unit not found: %w", sentinel.ErrNotFound)
	}
	if s.inv.separated[unitID] {
		return nil, fmt.Errorf("unit already separated: %w", sentinel.ErrInvalidState)
	}
	if err := validate(u); err != nil {
		return nil, err
	}
	for _, c := range components {
		clone := *c
		s.inv.components[c.ID] = &clone
	}
	s.inv.separated[unitID] = true
	u.ApplyStatus(SeparationProcessed, now)
	u.Version++
	clone := *u
	return &clone, nil
}

func (s *InMemoryComponentStore) FindByID(_ context.Context, compID id.ComponentID) (*SeparatedComponent, error) {
	s.inv.mu.RLock()
	defer s.inv.mu.RUnlock()
	c, ok := s.inv.components[compID]
	if !ok {
		return nil, fmt.Errorf("component not found: %w", sentinel.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (s *InMemoryComponentStore) List(_ context.Context, filter ComponentFilter) ([]*SeparatedComponent, error) {
	s.inv.mu.RLock()
	defer s.inv.mu.RUnlock()
	var out []*SeparatedComponent
	for _, c := range s.inv.components {
		if !matchComponent(c, filter) {
			continue
		}
		clone := *c
		out = append(out, &clone)
	}
	sortByExpiry(out)
	return out, nil
}

func matchComponent(c *SeparatedComponent, filter ComponentFilter) bool {
	if filter.BloodType != "" && c.BloodType != filter.BloodType {
		return false
	}
	if filter.ComponentType != "" && c.ComponentType != filter.ComponentType {
		return false
	}
	if filter.OnlyAvailable && !c.Available {
		return false
	}
	if !filter.UnitID.IsNil() && c.UnitID != filter.UnitID {
		return false
	}
	if !filter.ReservedBy.IsNil() && c.ReservedBy != filter.ReservedBy {
		return false
	}
	return true
}

func (s *InMemoryComponentStore) ReserveBatch(_ context.Context, requestID id.RequestID,
	bloodType id.BloodType, componentType id.ComponentType,
	neededML int, componentIDs []id.ComponentID,
	allowPartial bool, now time.Time) ([]*SeparatedComponent, int, error) {

	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()

	var picked []*SeparatedComponent
	total := 0
	if len(componentIDs) > 0 {
		// Named path: reserve exactly the requested components or nothing.
		seen := make(map[id.ComponentID]bool, len(componentIDs))
		for _, cid := range componentIDs {
			if seen[cid] {
				continue
			}
			seen[cid] = true
			c, ok := s.inv.components[cid]
			if !ok {
				return nil, 0, fmt.Errorf("component %s not found: %w", cid, sentinel.ErrNotFound)
			}
			if !c.Available {
				return nil, 0, fmt.Errorf("component %s already reserved: %w", cid, sentinel.ErrConflict)
			}
			if c.BloodType != bloodType || c.ComponentType != componentType || !now.Before(c.ExpiresAt) {
				return nil, 0, fmt.Errorf("component %s does not match the request: %w", cid, sentinel.ErrInvalidState)
			}
			picked = append(picked, c)
			total += c.VolumeML
		}
	} else {
		var candidates []*SeparatedComponent
		for _, c := range s.inv.components {
			if c.Available && c.BloodType == bloodType && c.ComponentType == componentType && now.Before(c.ExpiresAt) {
				candidates = append(candidates, c)
			}
		}
		sortByExpiry(candidates)

		for _, c := range candidates {
			if total >= neededML {
				break
			}
			picked = append(picked, c)
			total += c.VolumeML
		}
		if total < neededML && !allowPartial {
			return nil, total, nil
		}
	}
	out := make([]*SeparatedComponent, 0, len(picked))
	for _, c := range picked {
		c.Available = false
		c.ReservedBy = requestID
		c.UpdatedAt = now
		clone := *c
		out = append(out, &clone)
	}
	return out, total, nil
}

func (s *InMemoryComponentStore) ReleaseByRequest(_ context.Context, requestID id.RequestID, now time.Time) (int, error) {
	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	released := 0
	for _, c := range s.inv.components {
		if c.ReservedBy == requestID {
			c.Available = true
			c.ReservedBy = id.RequestID{}
			c.UpdatedAt = now
			released++
		}
	}
	return released, nil
}

func (s *InMemoryComponentStore) AvailableVolumes(_ context.Context) (map[id.BloodType]map[id.ComponentType]int, error) {
	s.inv.mu.RLock()
	defer s.inv.mu.RUnlock()
	out := make(map[id.BloodType]map[id.ComponentType]int)
	for _, c := range s.inv.components {
		if !c.Available {
			continue
		}
		byType, ok := out[c.BloodType]
		if !ok {
			byType = make(map[id.ComponentType]int)
			out[c.BloodType] = byType
		}
		byType[c.ComponentType] += c.VolumeML
	}
	return out, nil
}

func sortByExpiry(comps []*SeparatedComponent) {
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].ExpiresAt.Equal(comps[j].ExpiresAt) {
			return comps[i].ID.String() < comps[j].ID.String()
		}
		return comps[i].ExpiresAt.Before(comps[j].ExpiresAt)
	})
}
