package ingestor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/metrics"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/sink"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/source"
)

// ErrInterrupted marks ranges stopped by cancellation of the run
var ErrInterrupted = errors.New("range interrupted")

// RangeOutcome is the terminal state of one range
type RangeOutcome struct {
	Index    int
	Range    models.TimeRange
	Target   string
	Rows     int64
	Flushes  int
	Started  time.Time
	Finished time.Time
	Err      error
}

// Elapsed returns how long the range took
func (o RangeOutcome) Elapsed() time.Duration {
	return o.Finished.Sub(o.Started)
}

// Worker loads one time range from a provider into a sink of its own
type Worker struct {
	Provider source.Provider
	Factory  sink.Factory

	// RecordType is passed to the provider with every query
	RecordType string

	// OpenTimeout bounds opening the stream and NextTimeout each read.
	// Zero disables the bound.
	OpenTimeout time.Duration
	NextTimeout time.Duration

	Log *logrus.Entry
}

// Run streams the updates of r into a new sink and reports the outcome.
//
// Rows consumed before a cancellation or a stream error are flushed. Rows
// buffered when the sink itself fails are lost.
func (w *Worker) Run(ctx context.Context, index int, collectors []string, r models.TimeRange, filter string) (out RangeOutcome) {
	out = RangeOutcome{Index: index, Range: r, Started: time.Now()}
	log := logging.OrDefault(w.Log).WithFields(logrus.Fields{
		"index": index,
		"range": r.String(),
	})

	metrics.RangesInFlight.Inc()
	defer func() {
		metrics.RangesInFlight.Dec()
		out.Finished = time.Now()

		fields := logrus.Fields{
			"target":  out.Target,
			"rows":    out.Rows,
			"flushes": out.Flushes,
			"elapsed": out.Elapsed().String(),
		}
		if out.Err != nil {
			metrics.WorkerFailuresTotal.WithLabelValues(failureKind(out.Err)).Inc()
			log.WithFields(fields).WithError(out.Err).Error("range failed")
			return
		}
		log.WithFields(fields).Info("range completed")
	}()

	snk, err := w.Factory.New(r)
	if err != nil {
		out.Err = &SinkError{Range: r, Err: err}
		return out
	}

	// Writes must complete even when the run is being cancelled.
	flushCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := snk.Close(flushCtx); err != nil && out.Err == nil {
			out.Err = &SinkError{Range: r, Err: fmt.Errorf("failed to close sink: %w", err)}
		}
		// File sinks only know their target once a row was written
		out.Target = snk.Target()
		stats := snk.Stats()
		out.Rows = stats.Rows
		out.Flushes = stats.Flushes
	}()

	q := source.Query{
		Collectors: collectors,
		Range:      r,
		Filter:     filter,
		RecordType: w.RecordType,
	}
	log.Debug("opening stream")
	out.Err = w.consume(ctx, flushCtx, snk, q)
	return out
}

func (w *Worker) consume(ctx, flushCtx context.Context, snk sink.Sink, q source.Query) error {
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := watchdog(w.OpenTimeout, cancel, ErrOpenTimeout)
	stream, err := w.Provider.Open(streamCtx, q)
	if !stop() && err == nil {
		// The deadline passed while Open was returning and the stream is
		// already cancelled with it.
		stream.Close()
		err = ErrOpenTimeout
	}
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, nil)
		}
		return streamFailure(streamCtx, q.Range, err)
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return interrupted(ctx, flushBuffer(flushCtx, snk, q.Range))
		}

		u, err := w.next(streamCtx, stream)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx, flushBuffer(flushCtx, snk, q.Range))
			}
			return errors.Join(streamFailure(streamCtx, q.Range, err), flushBuffer(flushCtx, snk, q.Range))
		}

		if err := snk.Append(flushCtx, u); err != nil {
			return &SinkError{Range: q.Range, Err: err}
		}
	}

	return flushBuffer(flushCtx, snk, q.Range)
}

// next reads one record under its own deadline. A read that returns a record
// is accepted even when the deadline passed meanwhile; the stream itself is
// never cancelled by a read deadline.
func (w *Worker) next(streamCtx context.Context, stream source.Stream) (*models.Update, error) {
	if w.NextTimeout <= 0 {
		return stream.Next(streamCtx)
	}

	readCtx, cancel := context.WithTimeoutCause(streamCtx, w.NextTimeout, ErrNextTimeout)
	defer cancel()

	u, err := stream.Next(readCtx)
	if err != nil && !errors.Is(err, io.EOF) && errors.Is(context.Cause(readCtx), ErrNextTimeout) {
		err = ErrNextTimeout
	}
	return u, err
}

func flushBuffer(ctx context.Context, snk sink.Sink, r models.TimeRange) error {
	if err := snk.Flush(ctx); err != nil {
		return &SinkError{Range: r, Err: err}
	}
	return nil
}

func interrupted(ctx context.Context, flushErr error) error {
	return errors.Join(fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx)), flushErr)
}

// streamFailure reports err, or the open timeout that caused it
func streamFailure(streamCtx context.Context, r models.TimeRange, err error) error {
	if cause := context.Cause(streamCtx); errors.Is(cause, ErrOpenTimeout) {
		err = cause
	}
	return &StreamError{Range: r, Err: err}
}

// watchdog cancels with cause once d elapses. The returned stop reports
// false when the watchdog already fired.
func watchdog(d time.Duration, cancel context.CancelCauseFunc, cause error) (stop func() bool) {
	if d <= 0 {
		return func() bool { return true }
	}
	t := time.AfterFunc(d, func() { cancel(cause) })
	return t.Stop
}
