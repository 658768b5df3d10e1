package checkpoint

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		checkpoints: make(map[string]Checkpoint),
	}
}

func (s *memoryStore) Save(ctx context.Context, key string, cp Checkpoint) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.checkpoints[key] = cp
	return nil
}

func (s *memoryStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[key]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, key)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = make(map[string]Checkpoint)
	return nil
}
