package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== TokenBucket Tests ====================

func TestTokenBucket_AllowConsumesTokens(t *testing.T) {
	b := NewTokenBucket(2, 1)

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	b := NewTokenBucket(1, 100) // 100 tokens/sec refills fast
	require.True(t, b.Allow())
	require.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
}

func TestTokenBucket_WaitBlocksUntilTokenAvailable(t *testing.T) {
	b := NewTokenBucket(1, 50) // refills in ~20ms
	require.True(t, b.Allow())

	start := time.Now()
	err := b.Wait(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Greater(t, elapsed, time.Duration(0))
}

func TestTokenBucket_WaitRespectsContextCancellation(t *testing.T) {
	b := NewTokenBucket(1, 0.001) // effectively never refills within test window
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
