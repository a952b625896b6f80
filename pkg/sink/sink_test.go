package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// testUpdate returns an announcement whose time is derived from i
func testUpdate(i int) *models.Update {
	return &models.Update{
		RecordType:  "update",
		Type:        "A",
		Time:        1704067200 + float64(i)/1000,
		Project:     "routeviews",
		Collector:   "route-views.eqix",
		PeerASN:     64500,
		PeerAddress: "206.126.236.1",
		Prefix:      fmt.Sprintf("10.%d.%d.0/24", (i/256)%256, i%256),
		NextHop:     "206.126.236.1",
		ASPath:      "64500 64501",
		Communities: []string{"64500:1"},
	}
}

func testRange() models.TimeRange {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.TimeRange{Start: start, End: start.Add(time.Hour - time.Microsecond)}
}

type recordingWriter struct {
	batches [][]*models.Update
	err     error
}

func (w *recordingWriter) write(ctx context.Context, rows []*models.Update) error {
	if w.err != nil {
		return w.err
	}
	batch := make([]*models.Update, len(rows))
	copy(batch, rows)
	w.batches = append(w.batches, batch)
	return nil
}

func TestBuffer_ImplicitFlushAtCapacity(t *testing.T) {
	w := &recordingWriter{}
	b := newBuffer(KindCSV, 3, w.write)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, testUpdate(0)))
	require.NoError(t, b.Append(ctx, testUpdate(1)))
	assert.Len(t, w.batches, 0)
	assert.Equal(t, 2, b.Len())

	require.NoError(t, b.Append(ctx, testUpdate(2)))
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 3)
	assert.True(t, b.IsEmpty())

	require.NoError(t, b.Append(ctx, testUpdate(3)))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, Stats{Flushes: 1, Rows: 3}, b.Stats())
}

func TestBuffer_FlushEmptyIsNoop(t *testing.T) {
	w := &recordingWriter{}
	b := newBuffer(KindTable, 10, w.write)

	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, w.batches)
	assert.Equal(t, Stats{}, b.Stats())
}

func TestBuffer_WriteErrorKeepsRows(t *testing.T) {
	w := &recordingWriter{err: errors.New("disk full")}
	b := newBuffer(KindCSV, 2, w.write)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, testUpdate(0)))
	err := b.Append(ctx, testUpdate(1))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 0, b.Stats().Flushes)
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	b := newBuffer(KindCSV, 0, (&recordingWriter{}).write)
	assert.Equal(t, DefaultCapacity, b.capacity)
}
