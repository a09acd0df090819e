package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsJobsInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := New(DefaultConfig(), logger)
	defer func() { _ = q.Close() }()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		require.True(t, q.Submit("append", nil, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	q.Wait()

	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_FailureIsLoggedAndReported(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := New(DefaultConfig(), logger)
	defer func() { _ = q.Close() }()

	var failures int32
	q.OnFailure(func(name string) {
		assert.Equal(t, "award", name)
		atomic.AddInt32(&failures, 1)
	})

	q.Submit("award", logrus.Fields{"room_id": "c1"}, func(ctx context.Context) error {
		return errors.New("disk on fire")
	})
	q.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&failures))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "c1", entry.Data["room_id"])
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := New(DefaultConfig(), logger)
	defer func() { _ = q.Close() }()

	q.Submit("boom", nil, func(ctx context.Context) error { panic("boom") })
	ran := make(chan struct{})
	q.Submit("after", nil, func(ctx context.Context) error { close(ran); return nil })
	q.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("worker stopped after panic")
	}
}

func TestQueue_FullQueueDrops(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := New(Config{Capacity: 1, Workers: 1, JobTimeout: time.Second}, logger)
	defer func() { _ = q.Close() }()

	var dropped int32
	q.OnFailure(func(string) { atomic.AddInt32(&dropped, 1) })

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, q.Submit("block", nil, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	// worker busy, buffer holds one
	assert.True(t, q.Submit("queued", nil, func(ctx context.Context) error { return nil }))
	assert.False(t, q.Submit("dropped", nil, func(ctx context.Context) error { return nil }))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dropped))

	close(release)
	q.Wait()
}

func TestQueue_CloseDrainsAndRejects(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := New(DefaultConfig(), logger)

	var ran int32
	for i := 0; i < 5; i++ {
		q.Submit("count", nil, func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	require.NoError(t, q.Close())
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))

	assert.False(t, q.Submit("late", nil, func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, q.Close(), ErrQueueClosed)
}

func TestQueue_JobsSeeTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := New(Config{Capacity: 4, Workers: 1, JobTimeout: 10 * time.Millisecond}, logger)
	defer func() { _ = q.Close() }()

	var sawDeadline int32
	q.Submit("slow", nil, func(ctx context.Context) error {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			atomic.StoreInt32(&sawDeadline, 1)
		}
		return ctx.Err()
	})
	q.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&sawDeadline))
}
