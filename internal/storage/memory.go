package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"autolender/internal/marketplace"
)

// MemoryStore is a Backend that forgets everything on exit.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]marketplace.State
	ops    []Operation
	nextID int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]marketplace.State)}
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) LoadState(_ context.Context, account, kind string) (marketplace.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[account+"/"+kind]
	if !ok {
		return marketplace.State{}, marketplace.ErrNoState
	}
	state.SeenIDs = slices.Clone(state.SeenIDs)
	return state, nil
}

func (m *MemoryStore) SaveState(_ context.Context, account, kind string, state marketplace.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.SeenIDs = slices.Clone(state.SeenIDs)
	m.states[account+"/"+kind] = state
	return nil
}

func (m *MemoryStore) InsertOperation(_ context.Context, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	op.ID = m.nextID
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	m.ops = append(m.ops, op)
	return nil
}

func (m *MemoryStore) ListRecentOperations(_ context.Context, limit int) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.ops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListOperationsBetween(_ context.Context, from, to time.Time) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Operation
	for _, op := range m.ops {
		if !op.CreatedAt.Before(from) && op.CreatedAt.Before(to) {
			out = append(out, op)
		}
	}
	return out, nil
}

var _ Backend = (*MemoryStore)(nil)
