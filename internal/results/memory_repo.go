package results

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo keeps results in process; used when no database is configured.
type MemoryRepo struct {
	mu      sync.RWMutex
	results map[string]*Result
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{results: make(map[string]*Result)}
}

func copyResult(r *Result) *Result {
	cp := *r
	cp.Participants = append([]ParticipantResult(nil), r.Participants...)
	return &cp
}

func (m *MemoryRepo) Save(_ context.Context, r *Result) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.results[r.SessionID]; ok && existing.HostID != r.HostID {
		return fmt.Errorf("session %s: %w", r.SessionID, ErrConflict)
	}
	m.results[r.SessionID] = copyResult(r)
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, sessionID string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return copyResult(r), nil
}

func (m *MemoryRepo) ListByUser(_ context.Context, userID string) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Result
	for _, r := range m.results {
		if r.Includes(userID) {
			out = append(out, copyResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
