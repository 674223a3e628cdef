package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteTask(t *testing.T) {
	s := New(2)
	task := s.Schedule(func(ctx context.Context) (any, error) {
		return 42, nil
	}, PriorityNormal)

	result, err := s.ExecuteTask(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if task.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status())
	}
}

func TestConcurrencyBound(t *testing.T) {
	const bound = 10
	const total = 25
	s := New(bound)

	var running, peak atomic.Int32
	tasks := make([]*Task, 0, total)
	for i := 0; i < total; i++ {
		tasks = append(tasks, s.Schedule(func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}, PriorityNormal))
	}

	results, err := s.ExecuteBatch(context.Background(), tasks, false)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(results) != total {
		t.Fatalf("results = %d, want %d", len(results), total)
	}
	if p := peak.Load(); p > bound {
		t.Errorf("peak concurrency = %d, exceeds bound %d", p, bound)
	}

	st := s.Stats()
	if st.Completed != total {
		t.Errorf("Completed = %d, want %d", st.Completed, total)
	}
}

func TestPendingOrder(t *testing.T) {
	s := New(1)
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	s.Schedule(noop, PriorityLow, "low")
	s.Schedule(noop, PriorityNormal, "norm1")
	s.Schedule(noop, PriorityCritical, "crit")
	s.Schedule(noop, PriorityNormal, "norm2")
	s.Schedule(noop, PriorityHigh, "high")

	// Pending order: priority descending, FIFO within a band.
	want := []string{"crit", "high", "norm1", "norm2", "low"}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) != len(want) {
		t.Fatalf("pending = %d tasks, want %d", len(s.pending), len(want))
	}
	for i, w := range want {
		if s.pending[i].ID != w {
			t.Errorf("pending[%d] = %s, want %s", i, s.pending[i].ID, w)
		}
	}
}

func TestExecuteBatchReturnExceptions(t *testing.T) {
	s := New(4)
	boom := errors.New("boom")

	tasks := []*Task{
		s.Schedule(func(ctx context.Context) (any, error) { return "a", nil }, PriorityNormal),
		s.Schedule(func(ctx context.Context) (any, error) { return nil, boom }, PriorityNormal),
		s.Schedule(func(ctx context.Context) (any, error) { return "c", nil }, PriorityNormal),
	}

	results, err := s.ExecuteBatch(context.Background(), tasks, true)
	if err != nil {
		t.Fatalf("ExecuteBatch with returnExceptions: %v", err)
	}
	if results[0] != "a" || results[2] != "c" {
		t.Errorf("results = %v", results)
	}
	if e, ok := results[1].(error); !ok || !errors.Is(e, boom) {
		t.Errorf("results[1] = %v, want boom error", results[1])
	}
}

func TestExecuteBatchLeavesOthersPending(t *testing.T) {
	s := New(4)

	var otherRan atomic.Bool
	mine := []*Task{
		s.Schedule(func(ctx context.Context) (any, error) { return "a", nil }, PriorityHigh, "mine-1"),
		s.Schedule(func(ctx context.Context) (any, error) { return "b", nil }, PriorityHigh, "mine-2"),
	}
	other := s.Schedule(func(ctx context.Context) (any, error) {
		otherRan.Store(true)
		return nil, nil
	}, PriorityHigh, "other")

	results, err := s.ExecuteBatch(context.Background(), mine, true)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if results[0] != "a" || results[1] != "b" {
		t.Errorf("results = %v", results)
	}

	// A batch over explicit handles must not drain anyone else's work.
	if otherRan.Load() {
		t.Error("batch executed a task it was not given")
	}
	if other.Status() != StatusPending {
		t.Errorf("other status = %s, want pending", other.Status())
	}
	if st := s.Stats(); st.Pending != 1 {
		t.Errorf("Pending = %d, want 1", st.Pending)
	}
}

func TestExecuteTaskRunsOnce(t *testing.T) {
	s := New(2)

	var calls atomic.Int32
	task := s.Schedule(func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "done", nil
	}, PriorityNormal, "once")

	if _, err := s.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("first ExecuteTask: %v", err)
	}

	// A second call returns the recorded result without re-running the fn,
	// even if ExecutePending later sweeps the pending list.
	result, err := s.ExecuteTask(context.Background(), task)
	if err != nil {
		t.Fatalf("second ExecuteTask: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %v, want done", result)
	}
	if results, _ := s.ExecutePending(context.Background(), 0); len(results) != 0 {
		t.Errorf("ExecutePending ran %d tasks, want 0", len(results))
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fn ran %d times, want 1", n)
	}
}

func TestCancelPendingTask(t *testing.T) {
	s := New(1)
	task := s.Schedule(func(ctx context.Context) (any, error) {
		t.Error("cancelled task ran")
		return nil, nil
	}, PriorityNormal, "victim")

	if !s.CancelTask("victim") {
		t.Fatal("CancelTask returned false")
	}
	if task.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status())
	}

	// The pending list no longer contains it.
	if results, _ := s.ExecutePending(context.Background(), 0); len(results) != 0 {
		t.Errorf("ExecutePending ran %d tasks, want 0", len(results))
	}

	if s.CancelTask("missing") {
		t.Error("cancelling unknown task returned true")
	}
}

func TestCancelRunningTask(t *testing.T) {
	s := New(1)
	started := make(chan struct{})
	task := s.Schedule(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, PriorityNormal, "runner")

	go s.ExecuteTask(context.Background(), task)
	<-started

	if !s.CancelTask("runner") {
		t.Fatal("CancelTask returned false for running task")
	}

	if _, err := s.WaitForTask(context.Background(), "runner", time.Second); err == nil {
		t.Error("expected cancellation error")
	}
	if task.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status())
	}
}

func TestWaitForTaskTimeout(t *testing.T) {
	s := New(1)
	s.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, PriorityNormal, "idle")

	// Never executed, so the wait must expire.
	_, err := s.WaitForTask(context.Background(), "idle", 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}

	_, err = s.WaitForTask(context.Background(), "nope", 10*time.Millisecond)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}
