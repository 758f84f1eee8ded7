package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory RecordStore. It backs tests and single-node
// deployments; compare-and-swap semantics match the durable backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rec, ok := ms.records[key]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (ms *MemoryStore) Put(ctx context.Context, key string, value any, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, exists := ms.records[key]
	if expectedVersion == 0 {
		if exists {
			return 0, ErrVersionConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return 0, ErrVersionConflict
	}

	next := expectedVersion + 1
	ms.records[key] = Record{Key: key, Value: data, Version: next}
	return next, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.records, key)
	return nil
}

func (ms *MemoryStore) List(ctx context.Context, prefix string) ([]Record, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Record
	for key, rec := range ms.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
