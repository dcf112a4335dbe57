package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Job is one unit of queued work, bound to a single deployment.
type Job func(ctx context.Context) error

type queuedJob struct {
	name   string
	run    Job
	result chan error
}

// Queue runs jobs in arrival order with at most `concurrency` in flight.
type Queue struct {
	ctx    context.Context
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	waiting []*queuedJob
	wake    chan struct{}
	closed  bool

	size    atomic.Int64
	pending atomic.Int64

	running    sync.WaitGroup
	dispatched chan struct{}
}

// NewQueue starts a queue whose jobs run under ctx. Cancelling ctx cancels
// running jobs and fails the ones still waiting.
func NewQueue(ctx context.Context, concurrency int, logger *slog.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{
		ctx:        ctx,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		wake:       make(chan struct{}, 1),
		dispatched: make(chan struct{}),
	}
	go q.dispatch()
	return q
}

// Enqueue submits a job. The returned channel receives the job's outcome
// exactly once.
func (q *Queue) Enqueue(name string, job Job) <-chan error {
	result := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		result <- ErrQueueClosed
		return result
	}

	q.waiting = append(q.waiting, &queuedJob{name: name, run: job, result: result})
	q.size.Add(1)
	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.logger.Debug("Job enqueued", "container", name, "queue_size", q.size.Load())
	return result
}

// Size is the number of jobs waiting for a slot.
func (q *Queue) Size() int {
	return int(q.size.Load())
}

// Pending is the number of jobs currently running.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Shutdown stops intake and waits for waiting and running jobs to finish,
// or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-q.dispatched
		q.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

func (q *Queue) next() *queuedJob {
	for {
		q.mu.Lock()
		if len(q.waiting) > 0 {
			j := q.waiting[0]
			q.waiting[0] = nil
			q.waiting = q.waiting[1:]
			q.mu.Unlock()
			return j
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil
		}
		<-q.wake
	}
}

func (q *Queue) dispatch() {
	defer close(q.dispatched)

	for {
		j := q.next()
		if j == nil {
			return
		}

		err := q.sem.Acquire(q.ctx, 1)
		if err == nil && q.ctx.Err() != nil {
			q.sem.Release(1)
			err = q.ctx.Err()
		}
		if err != nil {
			q.size.Add(-1)
			j.result <- fmt.Errorf("job %s not started: %w", j.name, err)
			continue
		}

		q.size.Add(-1)
		q.pending.Add(1)
		q.running.Add(1)
		go q.run(j)
	}
}

func (q *Queue) run(j *queuedJob) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
			q.logger.Error("Job panicked", "container", j.name, "panic", r, "stack", string(debug.Stack()))
		}
		q.sem.Release(1)
		q.pending.Add(-1)
		q.running.Done()
		j.result <- err
	}()

	err = j.run(q.ctx)
}
