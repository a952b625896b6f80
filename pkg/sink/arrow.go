package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/utils"
)

// ArrowSink writes buffered updates to an Arrow IPC file, one record batch
// per flush. Like ParquetSink it creates <stem>-<uuid>.arrow on the first
// non-empty flush and needs Close to finish the file.
type ArrowSink struct {
	*buffer
	dir    string
	stem   string
	path   string
	pool   memory.Allocator
	schema *arrow.Schema
	file   *os.File
	writer *ipc.FileWriter
	log    *logrus.Entry
}

// NewArrowSink creates a sink writing <stem>-<uuid>.arrow inside dir.
func NewArrowSink(dir, stem string, capacity int, log *logrus.Entry) *ArrowSink {
	s := &ArrowSink{
		dir:    dir,
		stem:   stem,
		pool:   memory.NewGoAllocator(),
		schema: utils.UpdateSchema(),
		log:    logging.OrDefault(log),
	}
	s.buffer = newBuffer(KindArrow, capacity, s.writeRows)
	return s
}

// Target returns the file path, or "" while no row has been written
func (s *ArrowSink) Target() string {
	return s.path
}

func (s *ArrowSink) open() error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.arrow", s.stem, uuid.New().String()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(s.schema), ipc.WithAllocator(s.pool))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create Arrow writer: %w", err)
	}

	s.path = path
	s.file = f
	s.writer = writer
	s.log = s.log.WithField("target", path)
	return nil
}

func (s *ArrowSink) writeRows(ctx context.Context, rows []*models.Update) error {
	if s.writer == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	rec := utils.UpdatesToRecord(s.pool, s.schema, rows)
	defer rec.Release()

	if err := s.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write batch to Arrow file: %w", err)
	}

	s.log.WithField("rows", rec.NumRows()).Info("rows written")
	return nil
}

// Close writes the Arrow file footer and closes the file
func (s *ArrowSink) Close(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}

	err := s.writer.Close()
	s.writer = nil
	if cerr := s.file.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return nil
}

// ArrowFactory creates one Arrow IPC file per range inside Dir.
type ArrowFactory struct {
	Dir      string
	Capacity int
	Log      *logrus.Entry
}

func (f *ArrowFactory) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func (f *ArrowFactory) New(r models.TimeRange) (Sink, error) {
	return NewArrowSink(f.Dir, r.FileStem(), f.Capacity, f.Log), nil
}

func (f *ArrowFactory) Kind() string {
	return KindArrow
}
