package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTimeout      = errors.New("timeout waiting for task")
	ErrCancelled    = errors.New("task cancelled")
)

// Priority orders task start; higher starts no later than lower among ready
// tasks. Completion order is not guaranteed.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TaskFunc is the unit of work a task executes.
type TaskFunc func(ctx context.Context) (any, error)

// Task is one scheduled unit of work. Status transitions:
// Pending→Running→{Completed|Failed}; Pending→Cancelled; Running→Cancelled
// (cooperative, via the task's context).
type Task struct {
	ID       string
	Priority Priority

	fn TaskFunc

	mu          sync.Mutex
	status      Status
	result      any
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc

	done chan struct{}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) CreatedAt() time.Time { return t.createdAt }

func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() || t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}

// Stats are scheduler counters plus live pending/running sizes.
type Stats struct {
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Running   int   `json:"running"`
	Pending   int   `json:"pending"`
}

// Scheduler is a bounded-parallel task pool. The counting semaphore caps
// in-flight payloads at maxConcurrent; the pending list is kept sorted by
// priority descending, FIFO within equal priority.
type Scheduler struct {
	maxConcurrent int64

	semOnce sync.Once
	sem     *semaphore.Weighted

	mu      sync.Mutex
	pending []*Task
	tasks   map[string]*Task
	running int
	stats   Stats
}

func New(maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Scheduler{
		maxConcurrent: int64(maxConcurrent),
		tasks:         make(map[string]*Task),
	}
}

// semaphore is created lazily so a Scheduler can be constructed anywhere.
func (s *Scheduler) semaphore() *semaphore.Weighted {
	s.semOnce.Do(func() {
		s.sem = semaphore.NewWeighted(s.maxConcurrent)
	})
	return s.sem
}

// Schedule places a task on the pending list.
func (s *Scheduler) Schedule(fn TaskFunc, priority Priority, id ...string) *Task {
	taskID := ""
	if len(id) > 0 && id[0] != "" {
		taskID = id[0]
	} else {
		taskID = uuid.NewString()
	}

	t := &Task{
		ID:        taskID,
		Priority:  priority,
		fn:        fn,
		status:    StatusPending,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Insert after the last task with priority >= ours: descending order,
	// submission order preserved within a band.
	idx := len(s.pending)
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].Priority >= priority {
			break
		}
		idx = i
	}
	s.pending = append(s.pending, nil)
	copy(s.pending[idx+1:], s.pending[idx:])
	s.pending[idx] = t

	s.tasks[taskID] = t
	s.stats.Scheduled++
	return t
}

// ExecuteTask runs one task through the semaphore. Blocks until the task
// finishes; returns its result or error. A task that already finished
// returns its recorded outcome instead of running again.
func (s *Scheduler) ExecuteTask(ctx context.Context, t *Task) (any, error) {
	t.mu.Lock()
	switch t.status {
	case StatusCancelled:
		t.mu.Unlock()
		return nil, ErrCancelled
	case StatusCompleted, StatusFailed:
		t.mu.Unlock()
		return t.Result()
	}
	t.mu.Unlock()

	if err := s.semaphore().Acquire(ctx, 1); err != nil {
		s.finish(t, nil, err)
		return nil, err
	}
	defer s.semaphore().Release(1)

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	switch t.status {
	case StatusCancelled:
		t.mu.Unlock()
		return nil, ErrCancelled
	case StatusRunning, StatusCompleted, StatusFailed:
		// Another caller holds this task; wait for its outcome.
		t.mu.Unlock()
		return s.WaitForTask(ctx, t.ID, 0)
	}
	t.status = StatusRunning
	t.startedAt = time.Now().UTC()
	t.cancel = cancel
	t.mu.Unlock()

	s.mu.Lock()
	s.running++
	s.removePendingLocked(t)
	s.mu.Unlock()

	result, err := t.fn(tctx)

	s.mu.Lock()
	s.running--
	s.mu.Unlock()

	s.finish(t, result, err)
	return result, err
}

// removePendingLocked drops a task from the pending list once a caller has
// taken it. Callers hold s.mu.
func (s *Scheduler) removePendingLocked(t *Task) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) finish(t *Task, result any, err error) {
	t.mu.Lock()
	alreadyDone := t.status == StatusCompleted || t.status == StatusFailed || t.status == StatusCancelled
	if !alreadyDone {
		t.completedAt = time.Now().UTC()
		t.result = result
		t.err = err
		switch {
		case err == nil:
			t.status = StatusCompleted
		case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
			t.status = StatusCancelled
		default:
			t.status = StatusFailed
		}
	}
	status := t.status
	t.mu.Unlock()

	if alreadyDone {
		return
	}
	close(t.done)

	s.mu.Lock()
	switch status {
	case StatusCompleted:
		s.stats.Completed++
	case StatusFailed:
		s.stats.Failed++
	case StatusCancelled:
		s.stats.Cancelled++
	}
	s.mu.Unlock()
}

// ExecuteBatch runs tasks in parallel, each through ExecuteTask. The
// returned slice preserves submission order. With returnExceptions, task
// errors become error-typed elements instead of failing the batch.
func (s *Scheduler) ExecuteBatch(ctx context.Context, tasks []*Task, returnExceptions bool) ([]any, error) {
	results := make([]any, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			result, err := s.ExecuteTask(gctx, t)
			if err != nil {
				if returnExceptions {
					results[i] = err
					return nil
				}
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ExecutePending pops up to max pending tasks (all when max <= 0) and runs
// them as a batch with errors returned in-slice.
func (s *Scheduler) ExecutePending(ctx context.Context, max int) ([]any, error) {
	s.mu.Lock()
	n := len(s.pending)
	if max > 0 && max < n {
		n = max
	}
	batch := s.pending[:n]
	s.pending = append([]*Task(nil), s.pending[n:]...)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}
	return s.ExecuteBatch(ctx, batch, true)
}

// CancelTask cancels a task. Pending tasks are removed synchronously;
// running tasks get a cooperative cancellation request.
func (s *Scheduler) CancelTask(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	t.mu.Lock()
	switch t.status {
	case StatusPending:
		t.status = StatusCancelled
		t.err = ErrCancelled
		t.completedAt = time.Now().UTC()
		close(t.done)
		for i, p := range s.pending {
			if p.ID == id {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
		s.stats.Cancelled++
		t.mu.Unlock()
		s.mu.Unlock()
		return true
	case StatusRunning:
		cancel := t.cancel
		t.mu.Unlock()
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	default:
		t.mu.Unlock()
		s.mu.Unlock()
		return false
	}
}

// WaitForTask blocks until the task finishes or timeout elapses (timeout
// <= 0 waits indefinitely). On timeout the task remains live.
func (s *Scheduler) WaitForTask(ctx context.Context, id string, timeout time.Duration) (any, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case <-t.done:
		return t.Result()
	case <-timer:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Task returns a scheduled task by id.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running
	st.Pending = len(s.pending)
	return st
}
