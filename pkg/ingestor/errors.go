package ingestor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// ErrInvalidConfig is returned before any worker starts when the request
// cannot be partitioned or run.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	ErrOpenTimeout = errors.New("timed out opening stream")
	ErrNextTimeout = errors.New("timed out waiting for next record")
)

// StreamError is a failure to open or read the stream of a range
type StreamError struct {
	Range models.TimeRange
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error in range %s: %v", e.Range, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// SinkError is a failure to write the buffer of a range
type SinkError struct {
	Range models.TimeRange
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink error in range %s: %v", e.Range, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// PartialRunError reports the ranges that did not complete. Each failed
// outcome names the exact sub-range to re-run.
type PartialRunError struct {
	Failed []RangeOutcome
	Total  int
}

func (e *PartialRunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d ranges failed:", len(e.Failed), e.Total)
	for _, o := range e.Failed {
		fmt.Fprintf(&b, " [%d %s: %v]", o.Index, o.Range, o.Err)
	}
	return b.String()
}

func (e *PartialRunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, o := range e.Failed {
		errs = append(errs, o.Err)
	}
	return errs
}

// failureKind labels a worker error for metrics
func failureKind(err error) string {
	var streamErr *StreamError
	var sinkErr *SinkError
	switch {
	case errors.Is(err, ErrInterrupted):
		return "cancelled"
	case errors.As(err, &sinkErr):
		return "sink"
	case errors.Is(err, ErrOpenTimeout), errors.Is(err, ErrNextTimeout):
		return "timeout"
	case errors.As(err, &streamErr):
		return "stream"
	default:
		return "other"
	}
}
