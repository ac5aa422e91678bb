package jobs

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

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.Payload.(string)] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{Type: "t", Payload: p}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}

func TestQueueRetriesThenDrops(t *testing.T) {
	var attempts int32
	dropped := make(chan Job, 1)
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
		OnDrop:     func(j Job, err error) { dropped <- j },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	select {
	case j := <-dropped:
		assert.Equal(t, "job-1", j.ID)
		assert.Equal(t, 3, j.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never dropped")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueRejectsWhenNotRunning(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{}))

	q.Start(context.Background())
	q.Stop()
	assert.Error(t, q.Enqueue(Job{}))
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	var processed int32
	block := make(chan struct{})
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		if job.Type == "block" {
			<-block
		}
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{Type: "block"}))
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "x"}))
	}
	close(block)
	q.Stop()
	assert.Equal(t, int32(4), atomic.LoadInt32(&processed))
}

func TestQueueStopLetsInFlightJobFinish(t *testing.T) {
	var completed, dropped int32
	q := NewQueue("inflight", func(ctx context.Context, job Job) error {
		select {
		case <-time.After(50 * time.Millisecond):
			atomic.AddInt32(&completed, 1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, QueueConfig{
		Workers:    1,
		RetryDelay: time.Hour,
		OnDrop:     func(Job, error) { atomic.AddInt32(&dropped, 1) },
	})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{Type: "history"}))
	time.Sleep(10 * time.Millisecond)
	q.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&completed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&dropped))
}

func TestQueueStopRunsPendingRetryInline(t *testing.T) {
	var attempts int32
	q := NewQueue("retry-on-stop", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, RetryDelay: time.Hour})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 1 }, time.Second, 5*time.Millisecond)
	q.Stop()
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueueStopCancelsHandlersAfterDrainTimeout(t *testing.T) {
	var dropped int32
	q := NewQueue("stuck", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{
		Workers:      1,
		MaxRetries:   1,
		RetryDelay:   time.Hour,
		DrainTimeout: 20 * time.Millisecond,
		OnDrop:       func(Job, error) { atomic.AddInt32(&dropped, 1) },
	})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{}))

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not honour the drain timeout")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&dropped))
}

func TestQueueAcceptedJobsAreNeverLost(t *testing.T) {
	var accepted, processed int32
	q := NewQueue("race", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 4})
	q.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if q.Enqueue(Job{}) == nil {
					atomic.AddInt32(&accepted, 1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	q.Stop()
	wg.Wait()

	assert.Equal(t, atomic.LoadInt32(&accepted), atomic.LoadInt32(&processed))
}

func TestQueueStopsWhenStartContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue("ctx", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	q.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return q.Enqueue(Job{}) != nil }, time.Second, 5*time.Millisecond)
}
