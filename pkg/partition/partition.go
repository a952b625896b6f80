// Package partition splits a wall-clock interval into contiguous sub-ranges
// that can be loaded independently.
package partition

import (
	"errors"
	"fmt"
	"time"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

var (
	ErrInvalidCount     = errors.New("partition count must be positive")
	ErrEmptyInterval    = errors.New("until must be after from")
	ErrRangeTooSmall    = errors.New("interval too short for partition count")
	ErrInvalidPrecision = errors.New("precision must be one second or one microsecond")
)

// Options controls boundary arithmetic. It must stay fixed for a run.
type Options struct {
	// Precision is the gap between adjacent ranges (epsilon). Defaults to one microsecond.
	Precision time.Duration

	// InclusiveEnd makes the last range end exactly at until instead of until - epsilon
	InclusiveEnd bool
}

// DefaultOptions returns microsecond boundaries with an exclusive end.
func DefaultOptions() Options {
	return Options{Precision: time.Microsecond}
}

// Split partitions [from, until) into n contiguous ranges.
//
// Each range is floor((until-from)/n) whole seconds long, except the last one
// which absorbs the remainder. Adjacent ranges are separated by exactly one
// precision unit.
func Split(from, until time.Time, n int, opts Options) ([]models.TimeRange, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	if !until.After(from) {
		return nil, fmt.Errorf("%w: from=%s until=%s", ErrEmptyInterval,
			from.Format(models.InputTimeFormat), until.Format(models.InputTimeFormat))
	}

	eps := opts.Precision
	if eps == 0 {
		eps = time.Microsecond
	}
	if eps != time.Microsecond && eps != time.Second {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPrecision, eps)
	}

	total := until.Sub(from)
	slice := (total / time.Duration(n)).Truncate(time.Second)
	if slice == 0 {
		return nil, fmt.Errorf("%w: %s cannot be split into %d ranges", ErrRangeTooSmall, total, n)
	}

	ranges := make([]models.TimeRange, n)
	for i := 0; i < n; i++ {
		start := from.Add(time.Duration(i) * slice)
		var end time.Time
		switch {
		case i < n-1:
			end = from.Add(time.Duration(i+1) * slice).Add(-eps)
		case opts.InclusiveEnd:
			end = until
		default:
			end = until.Add(-eps)
		}
		if start.After(end) {
			return nil, fmt.Errorf("%w: range %d starts after it ends", ErrRangeTooSmall, i)
		}
		ranges[i] = models.TimeRange{Start: start, End: end}
	}

	return ranges, nil
}
