package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := New("test", 2, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	start := time.Now()
	ok := pool.TryDispatch(Job{
		Key: "tpl-1",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Less(t, elapsed, 10*time.Millisecond)
}

func TestPool_SameKeySequentialProcessing(t *testing.T) {
	pool := New("test", 4, 100)
	pool.Start(context.Background())

	var results []int
	var mu sync.Mutex

	for i := 1; i <= 5; i++ {
		val := i
		require.True(t, pool.TryDispatch(Job{
			Key: "tpl-ordered",
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		}))
	}

	// Stop drains every queued job before returning.
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, results)
}

func TestPool_QueueFullRejectsJob(t *testing.T) {
	pool := New("test", 1, 1)
	pool.Start(context.Background())
	defer pool.Stop()

	release := make(chan struct{})
	blocking := Job{Key: "k", Handler: func(ctx context.Context) error {
		<-release
		return nil
	}}

	require.True(t, pool.TryDispatch(blocking))
	require.Eventually(t, func() bool { return pool.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, pool.TryDispatch(blocking))
	assert.False(t, pool.TryDispatch(blocking))
	close(release)

	assert.Equal(t, int64(1), pool.GetStats().TotalRejected)
}

func TestPool_ErrorsAndPanicsAreCounted(t *testing.T) {
	pool := New("test", 2, 10)
	pool.Start(context.Background())

	pool.TryDispatch(Job{Key: "a", Handler: func(ctx context.Context) error { return errors.New("boom") }})
	pool.TryDispatch(Job{Key: "b", Handler: func(ctx context.Context) error { panic("kaboom") }})
	pool.Stop()

	stats := pool.GetStats()
	assert.Equal(t, int64(2), stats.TotalErrors)
	assert.Equal(t, int64(2), stats.TotalProcessed)
}

func TestPool_DispatchAfterStopIsRejected(t *testing.T) {
	pool := New("test", 1, 1)
	pool.Start(context.Background())
	pool.Stop()

	var ran int32
	ok := pool.TryDispatch(Job{Key: "x", Handler: func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	}})
	assert.False(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))

	unstarted := New("idle", 1, 1)
	assert.False(t, unstarted.TryDispatch(Job{Key: "x", Handler: func(ctx context.Context) error { return nil }}))
}

func TestPool_StopDrainsWithLiveContextAfterParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	pool := New("test", 1, 4)
	pool.Start(parent)

	release := make(chan struct{})
	require.True(t, pool.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error {
		<-release
		return nil
	}}))
	require.Eventually(t, func() bool { return pool.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)

	var queuedErr error
	ran := make(chan struct{})
	require.True(t, pool.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error {
		queuedErr = ctx.Err()
		close(ran)
		return nil
	}}))

	cancel()
	close(release)
	pool.Stop()

	select {
	case <-ran:
	default:
		t.Fatal("queued job was not drained by Stop")
	}
	assert.NoError(t, queuedErr)
}
