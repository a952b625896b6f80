package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/utils"
)

func TestArrowSink_BatchPerFlush(t *testing.T) {
	dir := t.TempDir()
	s := NewArrowSink(dir, "range-0", 3, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.Append(ctx, testUpdate(i)))
	}
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, Stats{Flushes: 3, Rows: 7}, s.Stats())

	f, err := os.Open(s.Target())
	require.NoError(t, err)
	defer f.Close()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
	require.NoError(t, err)
	defer rdr.Close()
	require.Equal(t, 3, rdr.NumRecords())

	var got int
	for i := 0; i < rdr.NumRecords(); i++ {
		rec, err := rdr.Record(i)
		require.NoError(t, err)
		updates, err := utils.RecordToUpdates(rec)
		require.NoError(t, err)
		for _, u := range updates {
			assert.Equal(t, testUpdate(got).Prefix, u.Prefix)
			got++
		}
	}
	assert.Equal(t, 7, got)
}

func TestArrowFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f := &ArrowFactory{Dir: dir, Capacity: 10}
	require.NoError(t, f.Prepare(context.Background()))
	assert.DirExists(t, dir)
	assert.Equal(t, KindArrow, f.Kind())

	s, err := f.New(testRange())
	require.NoError(t, err)
	assert.Empty(t, s.Target())

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, testUpdate(0)))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close(ctx))
	assert.True(t, strings.HasPrefix(filepath.Base(s.Target()), testRange().FileStem()+"-"))
	assert.FileExists(t, s.Target())
}
