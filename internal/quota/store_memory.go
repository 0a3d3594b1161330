package quota

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu           sync.Mutex
	defaultLimit int64
	data         map[string]Profile
}

func newMemoryStore(defaultLimit int64) *memoryStore {
	return &memoryStore{
		defaultLimit: defaultLimit,
		data:         make(map[string]Profile),
	}
}

func (s *memoryStore) GetOrInit(ctx context.Context, ownerID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ownerID), nil
}

func (s *memoryStore) TryReserve(ctx context.Context, ownerID string, size int64) (Profile, bool, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(ownerID)
	if p.LogicalUsed+size > p.StorageLimitBytes {
		return p, false, nil
	}
	p.LogicalUsed += size
	p.UpdatedAt = time.Now().UTC()
	s.data[ownerID] = p
	return p, true, nil
}

func (s *memoryStore) Release(ctx context.Context, ownerID string, size int64) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(ownerID)
	p.LogicalUsed -= size
	if p.LogicalUsed < 0 {
		p.LogicalUsed = 0
	}
	p.UpdatedAt = time.Now().UTC()
	s.data[ownerID] = p
	return p, nil
}

func (s *memoryStore) SetLimit(ctx context.Context, ownerID string, limit int64) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(ownerID)
	p.StorageLimitBytes = limit
	p.UpdatedAt = time.Now().UTC()
	s.data[ownerID] = p
	return p, nil
}

func (s *memoryStore) ensureLocked(ownerID string) Profile {
	p, ok := s.data[ownerID]
	if !ok {
		p = newProfile(ownerID, s.defaultLimit)
		s.data[ownerID] = p
	}
	return p
}
