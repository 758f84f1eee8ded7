package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// Retry Tests
// ============================================

func TestHandleWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	handler := func(ctx context.Context, key, value []byte) error {
		calls++
		return nil
	}

	err := handleWithRetry(context.Background(), handler, []byte("k"), []byte("v"))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandleWithRetry_RetriesSameMessageUntilSuccess(t *testing.T) {
	transient := errors.New("broker unavailable")
	calls := 0
	var seenValues []string
	handler := func(ctx context.Context, key, value []byte) error {
		calls++
		seenValues = append(seenValues, string(value))
		if calls < 3 {
			return transient
		}
		return nil
	}

	err := handleWithRetry(context.Background(), handler, []byte("k"), []byte("v"))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Every attempt saw the same message; nothing was skipped past
	assert.Equal(t, []string{"v", "v", "v"}, seenValues)
}

func TestHandleWithRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(ctx context.Context, key, value []byte) error {
		return errors.New("always failing")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := handleWithRetry(ctx, handler, []byte("k"), []byte("v"))

	assert.ErrorIs(t, err, context.Canceled)
}
