package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	N int `json:"n"`
}

// ============================================
// Get / Put Tests
// ============================================

func TestMemoryStore_GetAbsent(t *testing.T) {
	ms := NewMemoryStore()

	rec, err := ms.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	version, err := ms.Put(ctx, "k", testValue{N: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	rec, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Version)

	var v testValue
	require.NoError(t, rec.Decode(&v))
	assert.Equal(t, 1, v.N)
}

func TestMemoryStore_CreateOverExisting(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	_, err := ms.Put(ctx, "k", testValue{N: 1}, 0)
	require.NoError(t, err)

	_, err = ms.Put(ctx, "k", testValue{N: 2}, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_ConditionalUpdate(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	v1, err := ms.Put(ctx, "k", testValue{N: 1}, 0)
	require.NoError(t, err)

	v2, err := ms.Put(ctx, "k", testValue{N: 2}, v1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// Stale version loses
	_, err = ms.Put(ctx, "k", testValue{N: 3}, v1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	rec, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	var v testValue
	require.NoError(t, rec.Decode(&v))
	assert.Equal(t, 2, v.N)
}

func TestMemoryStore_UpdateAbsent(t *testing.T) {
	ms := NewMemoryStore()

	_, err := ms.Put(context.Background(), "missing", testValue{N: 1}, 3)

	assert.ErrorIs(t, err, ErrVersionConflict)
}

// ============================================
// Delete / List Tests
// ============================================

func TestMemoryStore_DeleteAbsentIsSuccess(t *testing.T) {
	ms := NewMemoryStore()

	assert.NoError(t, ms.Delete(context.Background(), "missing"))
}

func TestMemoryStore_DeleteRemovesKey(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	_, err := ms.Put(ctx, "k", testValue{N: 1}, 0)
	require.NoError(t, err)

	require.NoError(t, ms.Delete(ctx, "k"))

	rec, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"a/1", "a/2", "b/1"} {
		_, err := ms.Put(ctx, key, testValue{N: 1}, 0)
		require.NoError(t, err)
	}

	recs, err := ms.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a/1", recs[0].Key)
	assert.Equal(t, "a/2", recs[1].Key)

	empty, err := ms.List(ctx, "c/")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// ============================================
// Concurrency Tests
// ============================================

func TestMemoryStore_ConcurrentCASOnlyOneWins(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	v1, err := ms.Put(ctx, "k", testValue{N: 0}, 0)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := ms.Put(ctx, "k", testValue{N: n}, v1); err == nil {
				wins <- struct{}{}
			}
		}(i + 1)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}
