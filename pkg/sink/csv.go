package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// CSVSink appends buffered updates to a CSV file.
//
// The file is opened in append mode on every flush and never truncated, so
// re-running against the same path accumulates rows. The header row is written
// once, before the first batch, unless the file already holds data.
type CSVSink struct {
	*buffer
	path          string
	headerWritten bool
	log           *logrus.Entry
}

// NewCSVSink creates a sink writing to path. The file is not touched until the
// first non-empty flush.
func NewCSVSink(path string, capacity int, log *logrus.Entry) *CSVSink {
	s := &CSVSink{
		path: path,
		log:  logging.OrDefault(log).WithField("target", path),
	}
	s.buffer = newBuffer(KindCSV, capacity, s.writeRows)
	return s
}

// Target returns the file path
func (s *CSVSink) Target() string {
	return s.path
}

// Close is a no-op, the file is closed after every flush
func (s *CSVSink) Close(ctx context.Context) error {
	return nil
}

func (s *CSVSink) writeRows(ctx context.Context, rows []*models.Update) (err error) {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", s.path, cerr)
		}
	}()

	if !s.headerWritten {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", s.path, err)
		}
		s.headerWritten = info.Size() > 0
	}

	w := csv.NewWriter(f)
	writeHeader := !s.headerWritten
	if writeHeader {
		if err := w.Write(models.FieldNames()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	record := make([]string, len(models.UpdateFields))
	for _, u := range rows {
		for i, v := range models.Values(u, models.UpdateFields, "") {
			record[i] = formatValue(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}

	if writeHeader {
		s.headerWritten = true
	}
	s.log.WithField("rows", len(rows)).Info("rows written")
	return nil
}

// formatValue renders a column value; absent values are empty
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(v)
}

// CSVFactory creates one CSV file per range inside Dir.
type CSVFactory struct {
	Dir      string
	Capacity int
	Log      *logrus.Entry
}

// Prepare creates the output directory
func (f *CSVFactory) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// New returns a sink for the file named after r
func (f *CSVFactory) New(r models.TimeRange) (Sink, error) {
	return NewCSVSink(filepath.Join(f.Dir, r.FileStem()+".csv"), f.Capacity, f.Log), nil
}

// Kind returns KindCSV
func (f *CSVFactory) Kind() string {
	return KindCSV
}
