package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// CSVProvider replays updates from CSV files previously written by the CSV
// sink. Every *.csv file of Dir is read in name order; header rows are skipped
// wherever they appear.
type CSVProvider struct {
	Dir string
}

// Open returns a stream over the rows of the requested collectors and range
func (p *CSVProvider) Open(ctx context.Context, q Query) (Stream, error) {
	if q.Filter != "" {
		return nil, ErrFilterUnsupported
	}

	files, err := filepath.Glob(filepath.Join(p.Dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p.Dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no csv files found in %s", p.Dir)
	}
	slices.Sort(files)

	return &csvStream{query: q, files: files}, nil
}

type csvStream struct {
	query  Query
	files  []string
	file   *os.File
	reader *csv.Reader
	line   int
}

func (s *csvStream) Next(ctx context.Context) (*models.Update, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.reader == nil {
			if len(s.files) == 0 {
				return nil, io.EOF
			}
			if err := s.openNext(); err != nil {
				return nil, err
			}
		}

		row, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			s.closeFile()
			continue
		}
		s.line++
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.file.Name(), err)
		}
		if isHeader(row) {
			continue
		}

		u, err := ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.file.Name(), s.line, err)
		}
		if s.query.matches(u) {
			return u, nil
		}
	}
}

func (s *csvStream) openNext() error {
	f, err := os.Open(s.files[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.files[0], err)
	}
	s.files = s.files[1:]
	s.file = f
	s.line = 0
	s.reader = csv.NewReader(f)
	s.reader.FieldsPerRecord = len(models.UpdateFields)
	s.reader.ReuseRecord = true
	return nil
}

func (s *csvStream) closeFile() {
	if s.file != nil {
		s.file.Close()
	}
	s.file = nil
	s.reader = nil
}

func (s *csvStream) Close() error {
	s.closeFile()
	s.files = nil
	return nil
}

func isHeader(row []string) bool {
	return slices.Equal(row, models.FieldNames())
}

// ParseRow converts a CSV row in column order into an update.
func ParseRow(row []string) (*models.Update, error) {
	if len(row) != len(models.UpdateFields) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(models.UpdateFields), len(row))
	}

	t, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", row[2], err)
	}
	asn, err := strconv.ParseInt(row[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid peer_asn %q: %w", row[7], err)
	}

	var communities []string
	if row[12] != "" {
		communities = strings.Fields(row[12])
	}

	return &models.Update{
		RecordType:  row[0],
		Type:        row[1],
		Time:        t,
		Project:     row[3],
		Collector:   row[4],
		Router:      row[5],
		RouterIP:    row[6],
		PeerASN:     asn,
		PeerAddress: row[8],
		Prefix:      row[9],
		NextHop:     row[10],
		ASPath:      row[11],
		Communities: communities,
	}, nil
}
