package idempotency

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

func newTestLedger() *Ledger {
	return NewLedger(store.NewMemoryStore())
}

// ============================================
// Mark / Has Tests
// ============================================

func TestLedger_UnknownEventNotProcessed(t *testing.T) {
	ledger := newTestLedger()

	done, err := ledger.HasProcessed(context.Background(), "stock-decision", "order-1")

	require.NoError(t, err)
	assert.False(t, done)
}

func TestLedger_MarkThenHas(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	require.NoError(t, ledger.MarkProcessed(ctx, "stock-decision", "order-1"))

	done, err := ledger.HasProcessed(ctx, "stock-decision", "order-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLedger_DoubleMarkConflicts(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	require.NoError(t, ledger.MarkProcessed(ctx, "stock-decision", "order-1"))

	err := ledger.MarkProcessed(ctx, "stock-decision", "order-1")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestLedger_ConsumersArePartitioned(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	require.NoError(t, ledger.MarkProcessed(ctx, "stock-decision", "order-1"))

	done, err := ledger.HasProcessed(ctx, "seller-gain", "order-1")
	require.NoError(t, err)
	assert.False(t, done)
}

// ============================================
// Result Tests
// ============================================

func TestLedger_ResultRoundTrip(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	type outcome struct {
		Decision string `json:"decision"`
	}

	require.NoError(t, ledger.MarkProcessedResult(ctx, "stock-ledger", "order-1", outcome{Decision: "CONFIRMED"}))

	var got outcome
	done, err := ledger.GetResult(ctx, "stock-ledger", "order-1", &got)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "CONFIRMED", got.Decision)
}

func TestLedger_GetResultAbsent(t *testing.T) {
	ledger := newTestLedger()

	done, err := ledger.GetResult(context.Background(), "stock-ledger", "order-1", nil)

	require.NoError(t, err)
	assert.False(t, done)
}

// ============================================
// Concurrency Tests
// ============================================

func TestLedger_ConcurrentMarksCollapseToOne(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.MarkProcessed(ctx, "stock-decision", "order-1"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}
