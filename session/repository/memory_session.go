package repository

import (
	"context"
	"sync"
	"time"

	"github.com/AzielCF/az-restyle/session/domain"
)

// MemorySessionStore keeps sessions in a map. Data is lost on restart.
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data     *domain.Session
	expireAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (ms *MemorySessionStore) Save(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry := &memoryEntry{data: s.Clone()}
	if ttl > 0 {
		entry.expireAt = ms.now().Add(ttl)
	}
	ms.entries[s.ID] = entry
	return nil
}

func (ms *MemorySessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	e, ok := ms.entries[id]
	if !ok || ms.expired(e) {
		return nil, nil
	}
	return e.data.Clone(), nil
}

func (ms *MemorySessionStore) Delete(ctx context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.entries, id)
	return nil
}

// List returns every stored session. Entries past their store TTL are
// dropped on the way.
func (ms *MemorySessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	result := make([]*domain.Session, 0, len(ms.entries))
	for id, e := range ms.entries {
		if ms.expired(e) {
			delete(ms.entries, id)
			continue
		}
		result = append(result, e.data.Clone())
	}
	return result, nil
}

func (ms *MemorySessionStore) expired(e *memoryEntry) bool {
	return !e.expireAt.IsZero() && ms.now().After(e.expireAt)
}
