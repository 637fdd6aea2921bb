package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// DefaultBufferCapacity is the number of records kept in memory.
const DefaultBufferCapacity = 1000

// Buffer is a fixed-capacity ring of metrics records. When full, the oldest
// record is evicted. Writers take the write lock for one slot assignment;
// readers hold the read lock only while copying out.
type Buffer struct {
	mu    sync.RWMutex
	items []model.ProcessingMetricsRecord
	head  int // index of the oldest record
	size  int
}

// NewBuffer creates a Buffer. A non-positive capacity uses the default.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{items: make([]model.ProcessingMetricsRecord, capacity)}
}

// Record appends rec, evicting the oldest record when full. It reports
// whether a record was evicted.
func (b *Buffer) Record(rec model.ProcessingMetricsRecord) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = rec
		b.size++
		return false
	}
	b.items[b.head] = rec
	b.head = (b.head + 1) % capacity
	return true
}

// Since returns copies of the records with Timestamp at or after t, oldest
// first.
func (b *Buffer) Since(t time.Time) []model.ProcessingMetricsRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.ProcessingMetricsRecord, 0, b.size)
	for i := 0; i < b.size; i++ {
		rec := b.items[(b.head+i)%len(b.items)]
		if !rec.Timestamp.Before(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot returns copies of every buffered record, oldest first.
func (b *Buffer) Snapshot() []model.ProcessingMetricsRecord {
	return b.Since(time.Time{})
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of records kept.
func (b *Buffer) Capacity() int {
	return len(b.items)
}
