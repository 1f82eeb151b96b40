package store

import (
	"context"
	"sync"
)

var _ KV = (*Memory)(nil)

// Memory is an in-process KV used by tests and the CLI's ephemeral mode.
type Memory struct {
	mu      sync.RWMutex
	entries map[EntryKey]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[EntryKey]string)}
}

func (m *Memory) Get(_ context.Context, k EntryKey) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[k]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, k EntryKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = value
	return nil
}

func (m *Memory) PutAll(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.EntryKey] = e.Value
	}
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
