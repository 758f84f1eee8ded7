package mocks

import (
	"context"
	"sync"

	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

// MockRecordStore is a RecordStore for testing. It delegates to an in-memory
// store and lets tests track calls and inject failures.
type MockRecordStore struct {
	mu    sync.Mutex
	inner *store.MemoryStore

	// For tracking calls in tests
	PutCalls    []PutCall
	DeleteCalls []string

	GetErr      error
	PutErr      error
	DeleteErr   error
	ListErr     error
	PutCallback func(ctx context.Context, key string, value any, expectedVersion int64) (int64, error)
}

// PutCall records parameters passed to Put
type PutCall struct {
	Key             string
	Value           any
	ExpectedVersion int64
}

// NewMockRecordStore creates a new MockRecordStore
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{inner: store.NewMemoryStore()}
}

func (m *MockRecordStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.inner.Get(ctx, key)
}

func (m *MockRecordStore) Put(ctx context.Context, key string, value any, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, PutCall{Key: key, Value: value, ExpectedVersion: expectedVersion})
	m.mu.Unlock()

	if m.PutCallback != nil {
		return m.PutCallback(ctx, key, value, expectedVersion)
	}
	if m.PutErr != nil {
		return 0, m.PutErr
	}
	return m.inner.Put(ctx, key, value, expectedVersion)
}

func (m *MockRecordStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, key)
	m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	return m.inner.Delete(ctx, key)
}

func (m *MockRecordStore) List(ctx context.Context, prefix string) ([]store.Record, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.inner.List(ctx, prefix)
}

// Seed writes a value directly to the backing store, bypassing tracking.
func (m *MockRecordStore) Seed(ctx context.Context, key string, value any) error {
	_, err := m.inner.Put(ctx, key, value, 0)
	return err
}
