package ingestor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/sink"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/source"
)

var (
	base            = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	errStreamBroken = errors.New("connection reset by peer")
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// spread returns n updates of collector rrc00 evenly spaced over span from base
func spread(n int, span time.Duration) []*models.Update {
	step := span / time.Duration(n)
	out := make([]*models.Update, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.Update{
			RecordType:  "update",
			Type:        "A",
			Time:        models.UnixSeconds(base.Add(time.Duration(i) * step)),
			Project:     "ris",
			Collector:   "rrc00",
			PeerASN:     3333,
			PeerAddress: "193.0.0.56",
			Prefix:      fmt.Sprintf("10.%d.%d.0/24", (i/256)%256, i%256),
			NextHop:     "193.0.0.56",
			ASPath:      "3333 1103",
			Communities: []string{"3333:100"},
		})
	}
	return out
}

type faultKind int

const (
	faultError faultKind = iota + 1
	faultBlock
	faultSlow
	faultLateRecord
)

// fault describes how the stream of one range misbehaves
type fault struct {
	kind      faultKind
	after     int
	delay     time.Duration
	openBlock bool
	openDelay time.Duration
}

// faultyProvider wraps a provider and injects faults per range start
type faultyProvider struct {
	inner   source.Provider
	faults  map[time.Time]fault
	blocked *sync.WaitGroup
}

func (p *faultyProvider) Open(ctx context.Context, q source.Query) (source.Stream, error) {
	f, ok := p.faults[q.Range.Start]
	if ok && f.openBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if ok && f.openDelay > 0 {
		time.Sleep(f.openDelay)
	}
	s, err := p.inner.Open(ctx, q)
	if err != nil || !ok {
		return s, err
	}
	return &faultyStream{Stream: s, fault: f, blocked: p.blocked}, nil
}

type faultyStream struct {
	source.Stream
	fault   fault
	n       int
	blocked *sync.WaitGroup
	once    sync.Once
}

func (s *faultyStream) Next(ctx context.Context) (*models.Update, error) {
	switch s.fault.kind {
	case faultSlow:
		select {
		case <-time.After(s.fault.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case faultError:
		if s.n == s.fault.after {
			return nil, errStreamBroken
		}
	case faultLateRecord:
		if s.n == s.fault.after {
			// the record is read in time but handed over after the deadline
			s.n++
			u, err := s.Stream.Next(ctx)
			time.Sleep(s.fault.delay)
			return u, err
		}
	case faultBlock:
		if s.n == s.fault.after {
			if s.blocked != nil {
				s.once.Do(s.blocked.Done)
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	s.n++
	return s.Stream.Next(ctx)
}

// brokenFactory creates CSV sinks whose directory cannot exist
type brokenFactory struct {
	notADir string
}

func newBrokenFactory(t *testing.T) *brokenFactory {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	return &brokenFactory{notADir: path}
}

func (f *brokenFactory) Prepare(ctx context.Context) error { return nil }

func (f *brokenFactory) New(r models.TimeRange) (sink.Sink, error) {
	return sink.NewCSVSink(filepath.Join(f.notADir, r.FileStem()+".csv"), 10, quietLog()), nil
}

func (f *brokenFactory) Kind() string { return sink.KindCSV }

// countingFactory counts Prepare calls
type countingFactory struct {
	sink.Factory
	prepared int
}

func (f *countingFactory) Prepare(ctx context.Context) error {
	f.prepared++
	return f.Factory.Prepare(ctx)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	require.NoError(t, scanner.Err())
	return n
}
