package property

import (
	"context"
	"sync"
)

// Memory keeps properties in process memory. It is used for the "memory" database
// driver and in tests.
type Memory struct {
	mu    sync.Mutex
	items map[string]Item
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]Item)}
}

// Get returns the stored item for key.
func (m *Memory) Get(_ context.Context, key string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

// Put performs a compare-and-swap on the item version.
func (m *Memory) Put(_ context.Context, key, value string, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[key]
	switch {
	case !ok && expected != 0:
		return 0, ErrVersionConflict
	case ok && cur.Version != expected:
		return 0, ErrVersionConflict
	}
	next := Item{Key: key, Value: value, Version: expected + 1}
	m.items[key] = next
	return next.Version, nil
}

// Set overwrites the value and bumps the version.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.items[key]
	m.items[key] = Item{Key: key, Value: value, Version: cur.Version + 1}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
