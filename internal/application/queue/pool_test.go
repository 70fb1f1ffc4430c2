package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Acquire/Release Tests ====================

func TestPool_AcquireUpToCapacity(t *testing.T) {
	var created int32
	p := NewPool(2, func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&created, 1)), nil
	}, nil, nil)

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.Len())
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	p := NewPool(1, func(ctx context.Context) (int, error) { return 1, nil }, nil, nil)

	v, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		v2, err := p.Acquire(context.Background())
		require.NoError(t, err)
		done <- v2
	}()

	select {
	case <-done:
		t.Fatal("acquire should have blocked with no idle resources")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(v)

	select {
	case got := <-done:
		assert.Equal(t, 1, got)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after release")
	}
}

func TestPool_AcquireRespectsContextCancellation(t *testing.T) {
	p := NewPool(1, func(ctx context.Context) (int, error) { return 1, nil }, nil, nil)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_InvalidResourceIsDestroyedNotReused(t *testing.T) {
	var destroyed int32
	p := NewPool(1, func(ctx context.Context) (int, error) { return 1, nil },
		func(int) bool { return false },
		func(int) { atomic.AddInt32(&destroyed, 1) },
	)

	v, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(v)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&destroyed))
}

func TestPool_CloseFailsQueuedWaiters(t *testing.T) {
	p := NewPool(1, func(ctx context.Context) (int, error) { return 1, nil }, nil, nil)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was never notified of pool close")
	}
}
