package storage

import (
	"context"
	"sync"
)

// ObjectStore is the external media-storage collaborator. Remove of an
// absent object is success, so retried cascade deliveries stay safe.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Remove(ctx context.Context, name string) error
}

// MemoryObjectStore keeps objects in memory for tests and local runs.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (os *MemoryObjectStore) Put(ctx context.Context, name string, data []byte) error {
	os.mu.Lock()
	defer os.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	os.objects[name] = buf
	return nil
}

func (os *MemoryObjectStore) Remove(ctx context.Context, name string) error {
	os.mu.Lock()
	defer os.mu.Unlock()
	delete(os.objects, name)
	return nil
}

// Has reports whether an object exists; used by tests.
func (os *MemoryObjectStore) Has(name string) bool {
	os.mu.RLock()
	defer os.mu.RUnlock()
	_, ok := os.objects[name]
	return ok
}
