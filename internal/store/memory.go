package store

import "sync"

// MemStore keeps a document in memory behind an RWMutex. It backs tests and
// programmatically supplied bootstrap documents.
type MemStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemStore creates an in-memory store, optionally seeded with a document.
func NewMemStore(initial []byte) *MemStore {
	m := &MemStore{}
	if len(initial) > 0 {
		m.data = append([]byte(nil), initial...)
	}
	return m
}

// Load returns a copy of the stored document.
func (m *MemStore) Load() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNoDocument
	}
	return append([]byte(nil), m.data...), nil
}

// Save replaces the stored document with a copy of data.
func (m *MemStore) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}
