package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// E6 — sub-agent fan-out: 3 tasks in parallel mode with
// initial_workers=2, max_workers=3, each completing in 100-300ms.
func TestE6ParallelFanOut(t *testing.T) {
	var peakActive atomic.Int64
	var currentActive atomic.Int64

	run := func(ctx context.Context, tk Task, notify func(Notification)) Result {
		n := currentActive.Add(1)
		for {
			p := peakActive.Load()
			if n <= p || peakActive.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		currentActive.Add(-1)
		return Result{Status: StatusCompleted, Data: "ok:" + tk.ID}
	}

	pool := NewPool(run)
	pool.InitialWorkers = 2
	pool.MaxWorkers = 3

	var notifications []Notification
	var mu sync.Mutex
	notify := func(n Notification) {
		mu.Lock()
		notifications = append(notifications, n)
		mu.Unlock()
	}

	start := time.Now()
	results := pool.Execute(context.Background(), []Task{{ID: "1"}, {ID: "2"}, {ID: "3"}}, ModeParallel, notify)
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusCompleted, r.Status)
	}
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.GreaterOrEqual(t, peakActive.Load(), int64(2))

	completedCount := 0
	for _, n := range notifications {
		if n.Kind == NotifyTaskCompleted {
			completedCount++
		}
	}
	assert.Equal(t, 3, completedCount)
}

func TestSequentialRunsOneAtATime(t *testing.T) {
	var concurrent atomic.Int64
	var sawConcurrency atomic.Bool

	run := func(ctx context.Context, tk Task, notify func(Notification)) Result {
		if concurrent.Add(1) > 1 {
			sawConcurrency.Store(true)
		}
		time.Sleep(20 * time.Millisecond)
		concurrent.Add(-1)
		return Result{Status: StatusCompleted}
	}

	pool := NewPool(run)
	results := pool.Execute(context.Background(), []Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}, ModeSequential, nil)

	require.Len(t, results, 3)
	assert.False(t, sawConcurrency.Load())
}

func TestTaskTimeout(t *testing.T) {
	run := func(ctx context.Context, tk Task, notify func(Notification)) Result {
		select {
		case <-time.After(time.Second):
			return Result{Status: StatusCompleted}
		case <-ctx.Done():
			return Result{Status: StatusFailed, Err: ctx.Err().Error()}
		}
	}

	pool := NewPool(run)
	results := pool.Execute(context.Background(), []Task{{ID: "slow", Timeout: 30 * time.Millisecond}}, ModeSequential, nil)

	require.Len(t, results, 1)
	assert.Equal(t, StatusTimedOut, results[0].Status)
}

func TestCancellationMarksRemainingTasksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int64
	run := func(ctx context.Context, tk Task, notify func(Notification)) Result {
		started.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
			return Result{Status: StatusCompleted}
		case <-ctx.Done():
			return Result{Status: StatusCancelled}
		}
	}

	pool := NewPool(run)
	pool.InitialWorkers = 1
	pool.MaxWorkers = 1

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	results := pool.Execute(ctx, []Task{{ID: "1"}, {ID: "2"}, {ID: "3"}}, ModeParallel, nil)
	require.Len(t, results, 3)

	var cancelledCount int
	for _, r := range results {
		if r.Status == StatusCancelled {
			cancelledCount++
		}
	}
	assert.Greater(t, cancelledCount, 0)
}
