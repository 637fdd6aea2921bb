package monitoring

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Sink persists a batch of items.
type Sink[T any] func(ctx context.Context, batch []T) error

// Queue is a bounded background mirror queue. Enqueue never blocks: when
// the queue is full the oldest pending item is dropped and counted. A Run
// loop drains batches to the sink, retrying transient failures; batches
// that still fail are logged and discarded.
type Queue[T any] struct {
	name     string
	capacity int
	batch    int
	sink     Sink[T]
	retry    resilience.RetryConfig
	onDrop   func()

	mu      sync.Mutex
	items   []T
	wake    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// QueueOption configures a Queue.
type QueueOption[T any] func(*Queue[T])

// WithRetry sets the retry policy used for sink writes.
func WithRetry[T any](cfg resilience.RetryConfig) QueueOption[T] {
	return func(q *Queue[T]) { q.retry = cfg }
}

// WithDropHook is called once per dropped item.
func WithDropHook[T any](fn func()) QueueOption[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// NewQueue creates a queue that holds at most capacity pending items and
// writes them to sink in batches of batchSize.
func NewQueue[T any](name string, capacity, batchSize int, sink Sink[T], opts ...QueueOption[T]) *Queue[T] {
	if capacity <= 0 {
		capacity = 5000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	q := &Queue[T]{
		name:     name,
		capacity: capacity,
		batch:    batchSize,
		sink:     sink,
		retry:    resilience.DefaultRetryConfig(),
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	if q.retry.OnRetry == nil {
		q.retry.OnRetry = resilience.RetryLogger("monitoring.queue", name)
	}
	return q
}

// Enqueue adds item, dropping the oldest pending item when full.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were discarded because the queue was full.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

// Failed returns how many items were discarded after sink failures.
func (q *Queue[T]) Failed() int64 { return q.failed.Load() }

// Run drains the queue whenever items arrive. It returns nil when ctx is
// canceled; callers Flush afterwards with a fresh context.
func (q *Queue[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

// Flush writes every pending item to the sink.
func (q *Queue[T]) Flush(ctx context.Context) {
	q.drain(ctx)
}

func (q *Queue[T]) take() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(q.batch, len(q.items))
	if n == 0 {
		return nil
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

func (q *Queue[T]) drain(ctx context.Context) {
	for {
		batch := q.take()
		if len(batch) == 0 {
			return
		}
		err := resilience.Do(ctx, q.retry, func(ctx context.Context) error {
			return q.sink(ctx, batch)
		})
		if err != nil {
			q.failed.Add(int64(len(batch)))
			zap.L().Error("monitoring: mirror write failed",
				zap.String("queue", q.name),
				zap.Int("batch", len(batch)),
				zap.String("error_kind", string(resilience.KindInfrastructure)),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
