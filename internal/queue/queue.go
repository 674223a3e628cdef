package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Priority bands, highest drained first. FIFO within a band.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Message is one queued unit of work.
type Message struct {
	ID         string         `json:"id"`
	Content    map[string]any `json:"content"`
	Priority   Priority       `json:"priority"`
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Processed  bool           `json:"processed"`
	LastError  string         `json:"last_error,omitempty"`
}

// Handler processes a dequeued message. Handlers run in registration order;
// the first error aborts the chain and triggers a retry.
type Handler func(ctx context.Context, msg *Message) error

// Stats are cumulative queue counters.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Rejected  int64 `json:"rejected"`
}

// Queue is a multi-band FIFO with backpressure, batched drain, per-message
// retry, and an optional background worker.
type Queue struct {
	maxSize    int
	maxRetries int
	batchSize  int

	mu    sync.Mutex
	bands [numPriorities][]*Message
	stats Stats

	handlers   []Handler
	handlersMu sync.RWMutex

	notify  chan struct{}
	limiter *rate.Limiter

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Queue)

// WithMaxSize caps each priority band at n messages.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithMaxRetries sets the default number of handler attempts per message.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithBatchSize sets how many messages the worker drains per cycle.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithPollRate paces the worker's drain cycles.
func WithPollRate(r rate.Limit) Option {
	return func(q *Queue) { q.limiter = rate.NewLimiter(r, 1) }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		maxSize:    1000,
		maxRetries: 3,
		batchSize:  10,
		notify:     make(chan struct{}, 1),
		limiter:    rate.NewLimiter(rate.Limit(20), 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends a message to its priority band. Returns false without
// mutating state when the band is full.
func (q *Queue) Enqueue(content map[string]any, priority Priority, id ...string) bool {
	if priority < PriorityLow || priority >= numPriorities {
		priority = PriorityNormal
	}

	msgID := ""
	if len(id) > 0 && id[0] != "" {
		msgID = id[0]
	} else {
		msgID = uuid.NewString()
	}

	q.mu.Lock()
	if len(q.bands[priority]) >= q.maxSize {
		q.stats.Rejected++
		q.mu.Unlock()
		return false
	}
	q.bands[priority] = append(q.bands[priority], &Message{
		ID:         msgID,
		Content:    content,
		Priority:   priority,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: q.maxRetries,
	})
	q.stats.Enqueued++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// requeue puts a retried message back at the tail of its band.
func (q *Queue) requeue(msg *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bands[msg.Priority]) >= q.maxSize {
		q.stats.Rejected++
		return false
	}
	q.bands[msg.Priority] = append(q.bands[msg.Priority], msg)
	q.stats.Retried++
	return true
}

// tryPop removes the head of the highest-priority non-empty band.
func (q *Queue) tryPop() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := numPriorities - 1; p >= 0; p-- {
		if band := q.bands[p]; len(band) > 0 {
			msg := band[0]
			q.bands[p] = band[1:]
			return msg
		}
	}
	return nil
}

// Dequeue pops the highest-priority message, waiting up to timeout when the
// queue is empty. Returns nil on expiry.
func (q *Queue) Dequeue(timeout time.Duration) *Message {
	deadline := time.Now().Add(timeout)
	for {
		if msg := q.tryPop(); msg != nil {
			return msg
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil
		}
	}
}

// DequeueBatch drains up to max messages or until timeout elapses. The
// deadline is computed once; each inner wait uses the remaining slice.
func (q *Queue) DequeueBatch(max int, timeout time.Duration) []*Message {
	deadline := time.Now().Add(timeout)
	var batch []*Message
	for len(batch) < max {
		if msg := q.tryPop(); msg != nil {
			batch = append(batch, msg)
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return batch
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return batch
		}
	}
	return batch
}

// RegisterHandler appends a handler; handlers run in registration order for
// every dequeued message.
func (q *Queue) RegisterHandler(h Handler) {
	q.handlersMu.Lock()
	q.handlers = append(q.handlers, h)
	q.handlersMu.Unlock()
}

// Size returns the total queued message count across bands.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for p := 0; p < int(numPriorities); p++ {
		n += len(q.bands[p])
	}
	return n
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Start launches the background worker: drain a batch, run handlers on each
// message concurrently, retry failures, pace with the rate limiter.
func (q *Queue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.cancel != nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.worker(wctx)
}

// Stop signals the worker and waits for it to exit. Cooperative: an
// in-flight batch finishes first.
func (q *Queue) Stop() {
	q.runMu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		batch := q.DequeueBatch(q.batchSize, 200*time.Millisecond)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		var wg sync.WaitGroup
		for _, msg := range batch {
			wg.Add(1)
			go func(m *Message) {
				defer wg.Done()
				q.process(ctx, m)
			}(msg)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (q *Queue) process(ctx context.Context, msg *Message) {
	var err error
	q.handlersMu.RLock()
	handlers := q.handlers
	q.handlersMu.RUnlock()

	for _, h := range handlers {
		if err = h(ctx, msg); err != nil {
			break
		}
	}

	if err == nil {
		msg.Processed = true
		q.mu.Lock()
		q.stats.Processed++
		q.mu.Unlock()
		return
	}

	msg.RetryCount++
	msg.LastError = err.Error()
	if msg.RetryCount < msg.MaxRetries {
		if !q.requeue(msg) {
			slog.Warn("queue: retry dropped, band full", "id", msg.ID, "priority", msg.Priority)
			q.markFailed(msg)
		}
		return
	}
	slog.Warn("queue: message failed permanently",
		"id", msg.ID, "retries", msg.RetryCount, "error", msg.LastError)
	q.markFailed(msg)
}

func (q *Queue) markFailed(msg *Message) {
	q.mu.Lock()
	q.stats.Failed++
	q.mu.Unlock()
}
