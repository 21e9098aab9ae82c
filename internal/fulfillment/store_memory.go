package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
)

// InMemoryStore keeps requests in memory for tests and dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*BloodRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.RequestID]*BloodRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, req *BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, reqID id.RequestID) (*BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("request not found: %w", sentinel.ErrNotFound)
	}
	clone := *r
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]*BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BloodRequest
	for _, r := range s.requests {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.Hospital != "" && r.Hospital != filter.Hospital {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, reqID id.RequestID,
	validate func(*BloodRequest) error,
	mutate func(*BloodRequest)) (*BloodRequest, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("request not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(r); err != nil {
		return nil, err
	}
	mutate(r)
	r.Version++
	clone := *r
	return &clone, nil
}
