package profile

import (
	"context"
	"sync"

	"github.com/psysense/voice-coach/internal/coach"
)

// MemoryStore keeps profiles in process
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*coach.UserProfile
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*coach.UserProfile)}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, userID string) (*coach.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.profiles[userID]), nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, p *coach.UserProfile) error {
	if p == nil || p.ID == "" {
		return ErrInvalidProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = clone(p)
	return nil
}

// Clear implements Store
func (s *MemoryStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}

// AddSessionAnalysis implements Store
func (s *MemoryStore) AddSessionAnalysis(ctx context.Context, userID string, analysis coach.SessionAnalysis) (*coach.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	p.History = append(p.History, analysis)
	return clone(p), nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
