package alert

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store backend, used for single-instance
// deployments and tests. Expiry is enforced lazily on read and by Sweep.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Info

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Info),
		now:    time.Now,
	}
}

// Save implements Store. Overwrites any alert with the same ID.
func (s *MemoryStore) Save(ctx context.Context, a *Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *a
	s.alerts[a.AlertID] = &copied
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.Expired(s.now()) {
		delete(s.alerts, id)
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

// Pop implements Store: read and delete in one step.
func (s *MemoryStore) Pop(ctx context.Context, id string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked(id)
}

// PopAtomic implements Store. In-process the map mutex already serializes
// pops, so this is Pop under a different name kept for Store parity with the
// Redis backend.
func (s *MemoryStore) PopAtomic(ctx context.Context, id string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked(id)
}

// popLocked consumes an alert without checking expiry: an expired alert
// still in the store must pop so the caller can report "expired" rather
// than "not found".
func (s *MemoryStore) popLocked(id string) (*Info, error) {
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.alerts, id)
	copied := *a
	return &copied, nil
}

// Delete implements Store, reporting whether an alert was present.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.alerts[id]
	delete(s.alerts, id)
	return ok, nil
}

// GetAll implements Store, returning unexpired alerts in no particular order.
func (s *MemoryStore) GetAll(ctx context.Context) ([]*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]*Info, 0, len(s.alerts))
	for id, a := range s.alerts {
		if a.Expired(now) {
			delete(s.alerts, id)
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

// Sweep removes expired alerts and returns how many were removed.
func (s *MemoryStore) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, a := range s.alerts {
		if a.Expired(now) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
