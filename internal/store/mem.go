package store

import "sync"

// MemStore is a thread-safe, in-memory BlobStore for tests and
// ephemeral sessions.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemStore creates an empty in-memory blob store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

// Compile-time interface check.
var _ BlobStore = (*MemStore)(nil)

// Get returns the value for key.
func (m *MemStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set writes the value for key.
func (m *MemStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete removes the key.
func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
