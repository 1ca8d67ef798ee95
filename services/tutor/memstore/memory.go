package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

// MemoryStore is an in-process Store. Data is lost when the process exits,
// which is exactly what tests and demo deployments want.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*datatypes.UserMemory
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*datatypes.UserMemory)}
}

// Get returns a deep copy so callers can mutate the result freely.
func (s *MemoryStore) Get(ctx context.Context, userID string) (*datatypes.UserMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	memory, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return memory.Clone(), nil
}

// Put stores a deep copy so later caller mutations cannot leak in.
func (s *MemoryStore) Put(ctx context.Context, memory *datatypes.UserMemory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if memory == nil || memory.UserID == "" {
		return errors.New("memstore: memory must have a user ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[memory.UserID] = memory.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for id := range s.users {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
