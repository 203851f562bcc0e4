package editlock

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// MemoryStore keeps locks in a process-local concurrent map.
type MemoryStore struct {
	mu    sync.Mutex
	locks *haxmap.Map[string, Lock]
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: haxmap.New[string, Lock]()}
}

// Acquire implements Store. Expiry is judged against the new lock's
// acquisition time.
func (s *MemoryStore) Acquire(_ context.Context, lock Lock, _ time.Duration) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks.Get(lock.Key); ok && !existing.Expired(lock.AcquiredAt) {
		if existing.Holder == lock.Holder {
			existing.ExpiresAt = lock.ExpiresAt
			s.locks.Set(lock.Key, existing)
		}
		return existing, nil
	}
	s.locks.Set(lock.Key, lock)
	return lock, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Lock, bool, error) {
	lock, ok := s.locks.Get(key)
	return lock, ok, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks.Get(key)
	if !ok || existing.Holder != holder {
		return false, nil
	}
	s.locks.Del(key)
	return true, nil
}

// Len reports the number of stored locks, expired ones included.
func (s *MemoryStore) Len() int {
	return int(s.locks.Len())
}

// Locks returns every stored lock.
func (s *MemoryStore) Locks() []Lock {
	var out []Lock
	s.locks.ForEach(func(_ string, l Lock) bool {
		out = append(out, l)
		return true
	})
	return out
}
