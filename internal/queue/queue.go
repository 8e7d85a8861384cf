// Package queue runs background generation work keyed by note id.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Work generates something for one note.
type Work func(ctx context.Context, noteID string) error

// Queue is a pending-work queue keyed by note id. A note that is already
// pending or in flight is never queued again, and draining happens
// opportunistically whenever new work is scheduled.
type Queue struct {
	name    string
	work    Work
	sem     *semaphore.Weighted
	timeout time.Duration

	mu       sync.Mutex
	pending  []string
	queued   map[string]bool
	inFlight map[string]bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue running at most concurrency jobs at once. Each job
// gets timeout; zero means no limit beyond Close.
func New(name string, work Work, concurrency int, timeout time.Duration) *Queue {
	if concurrency <= 0 {
		concurrency = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:     name,
		work:     work,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		timeout:  timeout,
		queued:   make(map[string]bool),
		inFlight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule queues noteID and starts as much pending work as capacity allows.
// It reports whether the note was newly queued.
func (q *Queue) Schedule(noteID string) bool {
	q.mu.Lock()
	if q.ctx.Err() != nil || q.queued[noteID] || q.inFlight[noteID] {
		q.mu.Unlock()
		q.drain()
		return false
	}
	q.queued[noteID] = true
	q.pending = append(q.pending, noteID)
	q.mu.Unlock()

	q.drain()
	return true
}

// drain starts pending jobs until the semaphore is full.
func (q *Queue) drain() {
	for {
		if !q.sem.TryAcquire(1) {
			return
		}
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			// Release under the lock so a concurrent Schedule either sees
			// the free slot or left its id for this loop to find.
			q.sem.Release(1)
			q.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]
		delete(q.queued, id)
		q.inFlight[id] = true
		q.wg.Add(1)
		q.mu.Unlock()

		go q.run(id)
	}
}

func (q *Queue) run(id string) {
	defer q.wg.Done()
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if err := q.work(ctx, id); err != nil {
		slog.Warn("background job failed", "queue", q.name, "note", id, "error", err)
	}

	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
	q.sem.Release(1)

	// Finishing frees capacity for work queued while this job ran.
	q.drain()
}

// Pending reports how many notes are waiting or in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inFlight)
}

// Wait blocks until no work is pending or in flight.
func (q *Queue) Wait() {
	for {
		q.wg.Wait()
		if q.Pending() == 0 {
			return
		}
		q.drain()
	}
}

// Close cancels in-flight jobs, drops pending ones and waits for workers.
func (q *Queue) Close() {
	q.cancel()
	q.mu.Lock()
	for _, id := range q.pending {
		delete(q.queued, id)
	}
	q.pending = nil
	q.mu.Unlock()
	q.wg.Wait()
}
