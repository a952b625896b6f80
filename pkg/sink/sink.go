// Package sink buffers updates in memory and writes them to files or a
// relational table in batches.
package sink

import (
	"context"
	"time"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/metrics"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// Sink kinds
const (
	KindCSV     = "csv"
	KindParquet = "parquet"
	KindArrow   = "arrow"
	KindTable   = "table"
)

// DefaultCapacity is the default buffer size in rows
const DefaultCapacity = 100_000

// Sink buffers updates and writes them to a single target.
//
// A Sink is owned by one worker and is not safe for concurrent use.
type Sink interface {
	// Append buffers u and flushes when the buffer reaches capacity
	Append(ctx context.Context, u *models.Update) error

	// Flush writes the buffered rows as one batch and clears the buffer.
	// It does nothing when the buffer is empty.
	Flush(ctx context.Context) error

	IsFull() bool
	IsEmpty() bool
	Len() int

	// Stats reports what has been written so far
	Stats() Stats

	// Target describes where rows are written
	Target() string

	// Close releases the target. It does not flush.
	Close(ctx context.Context) error
}

// Stats counts successful flushes and the rows they wrote.
type Stats struct {
	Flushes int
	Rows    int64
}

// Factory creates one Sink per time range.
type Factory interface {
	// Prepare runs once before any sink is created
	Prepare(ctx context.Context) error

	// New creates the sink of a range
	New(r models.TimeRange) (Sink, error)

	// Kind returns the sink kind
	Kind() string
}

// writeFunc writes one batch of rows to a target
type writeFunc func(ctx context.Context, rows []*models.Update) error

// buffer implements the bounded buffer shared by all sinks
type buffer struct {
	kind     string
	capacity int
	rows     []*models.Update
	stats    Stats
	write    writeFunc
}

func newBuffer(kind string, capacity int, write writeFunc) *buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &buffer{
		kind:     kind,
		capacity: capacity,
		rows:     make([]*models.Update, 0, min(capacity, 4096)),
		write:    write,
	}
}

func (b *buffer) Append(ctx context.Context, u *models.Update) error {
	b.rows = append(b.rows, u)
	metrics.RecordsTotal.WithLabelValues(b.kind).Inc()
	if b.IsFull() {
		return b.Flush(ctx)
	}
	return nil
}

func (b *buffer) Flush(ctx context.Context) error {
	if b.IsEmpty() {
		return nil
	}

	start := time.Now()
	if err := b.write(ctx, b.rows); err != nil {
		return err
	}

	n := len(b.rows)
	b.stats.Flushes++
	b.stats.Rows += int64(n)
	metrics.FlushesTotal.WithLabelValues(b.kind).Inc()
	metrics.FlushRows.Observe(float64(n))
	metrics.FlushLatency.WithLabelValues(b.kind).Observe(float64(time.Since(start).Milliseconds()))

	clear(b.rows)
	b.rows = b.rows[:0]
	return nil
}

func (b *buffer) IsFull() bool {
	return len(b.rows) >= b.capacity
}

func (b *buffer) IsEmpty() bool {
	return len(b.rows) == 0
}

func (b *buffer) Len() int {
	return len(b.rows)
}

func (b *buffer) Stats() Stats {
	return b.stats
}
