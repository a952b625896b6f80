package ingestor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/config"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/sink"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/source"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/status"
)

func hourRequest(concurrency int) Request {
	return Request{
		Collectors:  []string{"rrc00"},
		From:        base,
		Until:       base.Add(time.Hour),
		Concurrency: concurrency,
		RecordType:  source.RecordTypeUpdates,
	}
}

func TestIngestor_LoadsEveryRange(t *testing.T) {
	dir := t.TempDir()
	ing := New(
		&source.MemoryProvider{Updates: spread(1000, time.Hour)},
		&sink.CSVFactory{Dir: dir, Capacity: 100, Log: quietLog()},
		WithLogger(quietLog()),
	)

	summary, err := ing.Run(context.Background(), hourRequest(4))
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 4)
	assert.Equal(t, int64(1000), summary.Rows())
	assert.Empty(t, summary.Failed())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, summary.FinishedAt.Sub(summary.StartedAt), summary.Elapsed)

	for i, o := range summary.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, int64(250), o.Rows)
		assert.Equal(t, 3, o.Flushes)
		assert.Equal(t, 251, countLines(t, o.Target))
	}
	assert.Equal(t, base.Add(time.Hour-time.Microsecond), summary.Outcomes[3].Range.End)

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestIngestor_FailedRangeDoesNotAffectOthers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	recorder := status.NewRedisRecorder(client, nil)

	failing := base.Add(30 * time.Minute)
	ing := New(
		&faultyProvider{
			inner:  &source.MemoryProvider{Updates: spread(1000, time.Hour)},
			faults: map[time.Time]fault{failing: {kind: faultError, after: 5}},
		},
		&sink.CSVFactory{Dir: t.TempDir(), Capacity: 100, Log: quietLog()},
		WithRecorder(recorder),
		WithLogger(quietLog()),
	)

	summary, err := ing.Run(context.Background(), hourRequest(4))

	var partial *PartialRunError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 4, partial.Total)
	require.Len(t, partial.Failed, 1)
	assert.Equal(t, 2, partial.Failed[0].Index)
	assert.Equal(t, failing, partial.Failed[0].Range.Start)
	assert.ErrorIs(t, err, errStreamBroken)

	require.NotNil(t, summary)
	assert.Equal(t, int64(5), summary.Outcomes[2].Rows)
	for _, i := range []int{0, 1, 3} {
		assert.NoError(t, summary.Outcomes[i].Err)
		assert.Equal(t, int64(250), summary.Outcomes[i].Rows)
	}

	failed, err := recorder.Failed(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Index)
	assert.Equal(t, "2024-01-01 00:30:00.000000", failed[0].Start)
	assert.Equal(t, "2024-01-01 00:44:59.999999", failed[0].End)
	assert.Contains(t, failed[0].Error, errStreamBroken.Error())

	all, err := recorder.List(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, status.StateCompleted, all[0].State)
	assert.Equal(t, int64(250), all[0].Rows)
}

func TestIngestor_FailFastStopsOtherRanges(t *testing.T) {
	ing := New(
		&faultyProvider{
			inner: &source.MemoryProvider{Updates: spread(1000, time.Hour)},
			faults: map[time.Time]fault{
				base:                       {kind: faultError, after: 0},
				base.Add(15 * time.Minute): {kind: faultBlock, after: 10},
				base.Add(30 * time.Minute): {kind: faultBlock, after: 10},
				base.Add(45 * time.Minute): {kind: faultBlock, after: 10},
			},
		},
		&sink.CSVFactory{Dir: t.TempDir(), Capacity: 100, Log: quietLog()},
		WithFailFast(true),
		WithLogger(quietLog()),
	)

	summary, err := ing.Run(context.Background(), hourRequest(4))

	var partial *PartialRunError
	require.ErrorAs(t, err, &partial)
	assert.Len(t, partial.Failed, 4)

	var streamErr *StreamError
	assert.ErrorAs(t, summary.Outcomes[0].Err, &streamErr)
	for _, o := range summary.Outcomes[1:] {
		assert.ErrorIs(t, o.Err, ErrInterrupted)
		assert.LessOrEqual(t, o.Rows, int64(10))
	}
}

func TestIngestor_CancelFlushesBufferedRows(t *testing.T) {
	blocked := &sync.WaitGroup{}
	blocked.Add(4)
	faults := map[time.Time]fault{}
	for i := 0; i < 4; i++ {
		faults[base.Add(time.Duration(i)*15*time.Minute)] = fault{kind: faultBlock, after: 10}
	}

	ing := New(
		&faultyProvider{
			inner:   &source.MemoryProvider{Updates: spread(1000, time.Hour)},
			faults:  faults,
			blocked: blocked,
		},
		&sink.CSVFactory{Dir: t.TempDir(), Capacity: 100, Log: quietLog()},
		WithLogger(quietLog()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		blocked.Wait()
		cancel()
	}()

	summary, err := ing.Run(ctx, hourRequest(4))

	var partial *PartialRunError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, context.Canceled)
	for _, o := range summary.Outcomes {
		assert.ErrorIs(t, o.Err, ErrInterrupted)
		assert.Equal(t, int64(10), o.Rows)
		assert.Equal(t, 11, countLines(t, o.Target))
	}
}

func TestIngestor_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
	}{
		{"no collectors", func(r *Request) { r.Collectors = nil }},
		{"zero concurrency", func(r *Request) { r.Concurrency = 0 }},
		{"empty interval", func(r *Request) { r.Until = r.From }},
		{"reversed interval", func(r *Request) { r.From, r.Until = r.Until, r.From }},
		{"interval too short", func(r *Request) {
			r.Until = r.From.Add(3 * time.Second)
			r.Concurrency = 5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &countingFactory{Factory: &sink.CSVFactory{Dir: t.TempDir()}}
			ing := New(&source.MemoryProvider{}, factory, WithLogger(quietLog()))

			req := hourRequest(2)
			tt.modify(&req)
			summary, err := ing.Run(context.Background(), req)

			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, summary)
			assert.Zero(t, factory.prepared)
		})
	}
}

func TestIngestor_PrepareOnce(t *testing.T) {
	factory := &countingFactory{Factory: &sink.CSVFactory{Dir: t.TempDir(), Log: quietLog()}}
	ing := New(&source.MemoryProvider{Updates: spread(10, time.Hour)}, factory, WithLogger(quietLog()))

	_, err := ing.Run(context.Background(), hourRequest(8))
	require.NoError(t, err)
	assert.Equal(t, 1, factory.prepared)
}

func TestIngestor_BufferSizeFlushes(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 250k rows")
	}

	ing := New(
		&source.MemoryProvider{Updates: spread(250_000, time.Hour)},
		&sink.CSVFactory{Dir: t.TempDir(), Capacity: sink.DefaultCapacity, Log: quietLog()},
		WithLogger(quietLog()),
	)

	summary, err := ing.Run(context.Background(), hourRequest(1))
	require.NoError(t, err)

	out := summary.Outcomes[0]
	assert.Equal(t, int64(250_000), out.Rows)
	assert.Equal(t, 3, out.Flushes)
	assert.Equal(t, 250_001, countLines(t, out.Target))
}

func TestNewIngestor_ReplaysDumpIntoParquet(t *testing.T) {
	dump := t.TempDir()
	first := New(
		&source.MemoryProvider{Updates: spread(100, time.Hour)},
		&sink.CSVFactory{Dir: dump, Capacity: 30, Log: quietLog()},
		WithLogger(quietLog()),
	)
	_, err := first.Run(context.Background(), hourRequest(3))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Collectors = []string{"rrc00"}
	cfg.From = "2024-01-01 00:00:00"
	cfg.Until = "2024-01-01 01:00:00"
	cfg.Concurrency = 2
	cfg.Source.Type = "csv"
	cfg.Source.CSV.Dir = dump
	cfg.Sink.Type = "parquet"
	cfg.Sink.Dir = filepath.Join(t.TempDir(), "parquet")
	require.NoError(t, cfg.Validate())

	ing, err := NewIngestor(context.Background(), cfg, quietLog())
	require.NoError(t, err)
	defer ing.Close()

	req, err := RequestFromConfig(cfg)
	require.NoError(t, err)
	summary, err := ing.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(100), summary.Rows())

	entries, err := os.ReadDir(cfg.Sink.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNewIngestor_UnsupportedSink(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Type = "csv"
	cfg.Sink.Type = "s3"

	_, err := NewIngestor(context.Background(), cfg, quietLog())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRequestFromConfig_BadTime(t *testing.T) {
	cfg := config.Default()
	cfg.From = "yesterday"
	cfg.Until = "2024-01-01 01:00:00"

	_, err := RequestFromConfig(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPartialRunError_Message(t *testing.T) {
	err := &PartialRunError{
		Total: 4,
		Failed: []RangeOutcome{{
			Index: 1,
			Range: testRange(),
			Err:   &StreamError{Range: testRange(), Err: errStreamBroken},
		}},
	}
	assert.Contains(t, err.Error(), "1 of 4 ranges failed")
	assert.Contains(t, err.Error(), "2024-01-01 00:00:00.000000")
	assert.True(t, errors.Is(err, errStreamBroken))
}
