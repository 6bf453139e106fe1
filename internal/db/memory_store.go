package db

import (
	"context"
	"slices"
	"sync"

	"qpfwatch/internal/types"
)

// MemoryStateStore is an in-process StateStore used by tests and dry runs.
type MemoryStateStore struct {
	mu       sync.Mutex
	state    types.RunState
	maxItems int
	saves    int
}

// NewMemoryStateStore returns a store seeded with initial.
func NewMemoryStateStore(initial types.RunState, maxItems int) *MemoryStateStore {
	return &MemoryStateStore{state: cloneState(initial), maxItems: maxItems}
}

// Load implements types.StateStore.
func (s *MemoryStateStore) Load(context.Context) (types.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state), nil
}

// Save implements types.StateStore.
func (s *MemoryStateStore) Save(_ context.Context, state types.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Items = types.TruncateItems(state.Items, s.maxItems)
	s.state = cloneState(state)
	s.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (s *MemoryStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneState(st types.RunState) types.RunState {
	st.Items = slices.Clone(st.Items)
	return st
}
