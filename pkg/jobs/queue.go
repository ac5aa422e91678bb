package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// DropFunc is notified when a job is abandoned after its final attempt.
type DropFunc func(Job, error)

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// DrainTimeout bounds how long Stop keeps processing buffered jobs.
	DrainTimeout time.Duration
	OnDrop       DropFunc
	Logger       *zap.Logger
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines.
// Handlers run on a context that Stop does not cancel; Stop closes intake,
// lets workers finish everything already accepted and only then cancels
// handlers that outlive the drain timeout.
type Queue struct {
	name    string
	handler Handler

	workers      int
	maxRetries   int
	retryDelay   time.Duration
	drainTimeout time.Duration
	onDrop       DropFunc
	logger       *zap.Logger

	jobs     chan Job
	execCtx  context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	retries  sync.WaitGroup
	mu       sync.RWMutex
	started  bool
	stopped  bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:         name,
		handler:      handler,
		workers:      cfg.Workers,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		drainTimeout: cfg.DrainTimeout,
		onDrop:       cfg.OnDrop,
		logger:       cfg.Logger,
		jobs:         make(chan Job, cfg.BufferSize),
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins worker consumption. Safe to call once. Cancelling ctx stops
// the queue the same way Stop does.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.execCtx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	go func() {
		select {
		case <-ctx.Done():
			q.Stop()
		case <-q.done:
		}
	}()
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop refuses new jobs, waits until every accepted job and pending retry has
// been handled and returns. Handlers still running after the drain timeout
// see their context cancelled.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopping)
	close(q.jobs)
	q.mu.Unlock()

	deadline := time.AfterFunc(q.drainTimeout, q.cancel)
	defer deadline.Stop()

	q.wg.Wait()
	q.retries.Wait()
	q.cancel()
	close(q.done)
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue pushes a job onto the queue. A nil error means the job will be
// handled before Stop returns.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if q.stopped {
		return fmt.Errorf("queue %s stopped", q.name)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	// Stop needs the write lock to close the channel, so the send cannot race it.
	q.jobs <- job
	return nil
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.handler(q.execCtx, job); err != nil {
			q.handleFailure(job, err)
		}
	}
}

func (q *Queue) drop(job Job, err error) {
	q.logger.Sugar().Errorw("job dropped", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)
	if q.onDrop != nil {
		q.onDrop(job, err)
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries {
		q.drop(job, err)
		return
	}
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

	q.retries.Add(1)
	go func(j Job) {
		defer q.retries.Done()
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.stopping:
		case <-timer.C:
			if q.Enqueue(j) == nil {
				return
			}
		}
		// Shutting down: one last inline attempt instead of waiting out the delay.
		if err := q.handler(q.execCtx, j); err != nil {
			j.Attempt++
			q.drop(j, err)
		}
	}(job)
}
