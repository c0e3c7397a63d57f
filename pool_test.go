package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFactory(created *int32) SessionFactory {
	return func() (*detections.ModelSession, error) {
		atomic.AddInt32(created, 1)
		return &detections.ModelSession{}, nil
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2, PoolOptions{})
	require.NoError(t, err)
	defer pool.Destroy()
	assert.Equal(t, int32(2), atomic.LoadInt32(&created))

	s1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)

	stats := pool.GetMetrics()
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 0, stats.Available)

	pool.Release(s1)
	pool.Release(s2)

	stats = pool.GetMetrics()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, int64(2), stats.TotalAcquired)
	assert.Equal(t, int64(2), stats.TotalReleased)
}

func TestPoolAcquireTimeout(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 1, PoolOptions{AcquireTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), pool.GetMetrics().AcquireFailures)
}

func TestPoolAcquireContextCancelled(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 1, PoolOptions{AcquireTimeout: time.Minute})
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolDiscardAndReplenish(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2, PoolOptions{})
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s, errors.New("run failed"))

	stats := pool.GetMetrics()
	assert.Equal(t, int64(1), stats.Discarded)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, "run failed", stats.LastError)

	pool.replenishSessions()
	assert.Equal(t, int32(3), atomic.LoadInt32(&created))
	assert.Equal(t, 2, pool.GetMetrics().Available)

	// A full pool is left alone.
	pool.replenishSessions()
	assert.Equal(t, int32(3), atomic.LoadInt32(&created))
}

func TestPoolReplenishFactoryError(t *testing.T) {
	var calls int32
	pool, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		if atomic.AddInt32(&calls, 1) > 1 {
			return nil, errors.New("out of memory")
		}
		return &detections.ModelSession{}, nil
	}, 1, PoolOptions{})
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s, errors.New("run failed"))
	pool.replenishSessions()

	stats := pool.GetMetrics()
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, "out of memory", stats.LastError)
}

func TestPoolFactoryErrorOnCreate(t *testing.T) {
	var calls int32
	_, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			return nil, errors.New("bad model")
		}
		return &detections.ModelSession{}, nil
	}, 3, PoolOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestPoolDestroy(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2, PoolOptions{})
	require.NoError(t, err)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Releasing after close must not panic.
	assert.NotPanics(t, func() { pool.Release(s) })
}

func TestPoolDefaults(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 0, PoolOptions{})
	require.NoError(t, err)
	defer pool.Destroy()

	assert.Equal(t, DefaultPoolSize, pool.GetMetrics().PoolSize)
	assert.Equal(t, AcquireTimeout, pool.opts.AcquireTimeout)
}
