// Package queue implements the in-process job queue backing the software
// policy pipeline. It provides at-least-once delivery with bounded retry and
// exponential backoff, deduplication by caller-supplied job id, bounded
// worker concurrency and bounded completed/failed history.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"breeze/internal/logs"
)

var ErrStopped = errors.New("queue stopped")

// Handler consumes one job. A non-nil error (or panic) triggers redelivery
// with backoff until the attempt limit is reached.
type Handler func(ctx context.Context, job Job) error

// Job is the unit of work as seen by a handler.
type Job struct {
	ID      string
	Name    string
	Payload json.RawMessage
	Attempt int // 1-based delivery attempt
}

type Options struct {
	Workers       int           // concurrent handler executions, default 1
	Attempts      int           // delivery attempts per job, default 3
	BackoffDelay  time.Duration // initial retry delay, default 5s
	BackoffMax    time.Duration // retry delay cap, default 30s
	KeepCompleted int           // completed job ids retained, default 100
	KeepFailed    int           // failed job ids retained, default 500
}

type queuedJob struct {
	Job
	runAt time.Time
}

// Queue owns its worker lifecycle explicitly: New → Handle → Start → Stop.
// All coordination between concurrent executions happens through the store
// and deterministic job ids, never through shared handler state.
type Queue struct {
	name string
	opts Options

	mu        sync.Mutex
	cond      *sync.Cond
	handlers  map[string]Handler
	jobs      []*queuedJob
	held      map[string]struct{} // ids currently queued or running
	completed []string
	failed    []string
	accepting bool
	stopped   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(name string, opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = 5 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 500
	}
	q := &Queue{
		name:      name,
		opts:      opts,
		handlers:  map[string]Handler{},
		held:      map[string]struct{}{},
		accepting: true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Handle registers the handler for a job name. Must be called before Start.
func (q *Queue) Handle(jobName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobName] = h
}

// Enqueue adds a job. Returns false when a job with the same id is already
// queued or running (the enqueue is a no-op) or after Stop.
func (q *Queue) Enqueue(jobName, jobID string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", jobName, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return false, ErrStopped
	}
	if _, dup := q.held[jobID]; dup {
		return false, nil
	}
	q.held[jobID] = struct{}{}
	q.jobs = append(q.jobs, &queuedJob{
		Job:   Job{ID: jobID, Name: jobName, Payload: body, Attempt: 1},
		runAt: time.Now(),
	})
	q.cond.Signal()
	return true, nil
}

// IsQueuedOrActive reports whether a job with the given id is queued,
// delayed for retry, or currently running.
func (q *Queue) IsQueuedOrActive(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.held[jobID]
	return ok
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.wg.Add(q.opts.Workers)
	for i := 0; i < q.opts.Workers; i++ {
		go q.worker()
	}
	logs.Logger.Infof("queue %s: started workers=%d attempts=%d", q.name, q.opts.Workers, q.opts.Attempts)
}

// Stop rejects new jobs, drains ready jobs (delayed retries are abandoned)
// and waits for in-flight handlers up to the context deadline.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	q.accepting = false
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logs.Logger.Infof("queue %s: drained", q.name)
	case <-ctx.Done():
		logs.Logger.Warnf("queue %s: drain timed out", q.name)
	}
	if q.cancel != nil {
		q.cancel()
	}
}

// Stats is a snapshot of queue state, used by tests and the ops surface.
type Stats struct {
	Queued    int
	Completed int
	Failed    int
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Queued: len(q.jobs), Completed: len(q.completed), Failed: len(q.failed)}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		j := q.next()
		if j == nil {
			return
		}
		q.run(j)
	}
}

// next blocks until a job is due or the queue is stopped. Ready jobs are
// still handed out after Stop so the drain completes them; jobs waiting on
// a retry delay are not.
func (q *Queue) next() *queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		now := time.Now()
		best := -1
		for i, j := range q.jobs {
			if best == -1 || j.runAt.Before(q.jobs[best].runAt) {
				best = i
			}
		}
		if best >= 0 && !q.jobs[best].runAt.After(now) {
			j := q.jobs[best]
			q.jobs = append(q.jobs[:best], q.jobs[best+1:]...)
			return j
		}
		if q.stopped {
			return nil
		}
		if best >= 0 {
			// Earliest job is delayed; wake when it comes due.
			t := time.AfterFunc(q.jobs[best].runAt.Sub(now), q.cond.Broadcast)
			q.cond.Wait()
			t.Stop()
		} else {
			q.cond.Wait()
		}
	}
}

func (q *Queue) run(j *queuedJob) {
	q.mu.Lock()
	h := q.handlers[j.Name]
	q.mu.Unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logs.Logger.Errorf("queue %s: job %s panicked: %v\n%s", q.name, j.ID, r, debug.Stack())
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if h == nil {
			return fmt.Errorf("no handler registered for job %q", j.Name)
		}
		return h(q.ctx, j.Job)
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case err == nil:
		delete(q.held, j.ID)
		q.completed = appendBounded(q.completed, j.ID, q.opts.KeepCompleted)
	case j.Attempt < q.opts.Attempts && !q.stopped:
		delay := q.backoffFor(j.Attempt)
		logs.Logger.Warnf("queue %s: job %s attempt %d/%d failed, retry in %s: %v",
			q.name, j.ID, j.Attempt, q.opts.Attempts, delay, err)
		j.Attempt++
		j.runAt = time.Now().Add(delay)
		q.jobs = append(q.jobs, j)
	default:
		logs.Logger.Errorf("queue %s: job %s failed after %d attempts: %v", q.name, j.ID, j.Attempt, err)
		delete(q.held, j.ID)
		q.failed = appendBounded(q.failed, j.ID, q.opts.KeepFailed)
	}
	q.cond.Signal()
}

// backoffFor doubles the initial delay per attempt, capped at BackoffMax.
func (q *Queue) backoffFor(attempt int) time.Duration {
	d := q.opts.BackoffDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if d > q.opts.BackoffMax {
		return q.opts.BackoffMax
	}
	return d
}

func appendBounded(list []string, id string, max int) []string {
	list = append(list, id)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
