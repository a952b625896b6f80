package models

import (
	"fmt"
	"math"
	"time"
)

const (
	// InputTimeFormat is the format of run boundaries given by operators
	InputTimeFormat = "2006-01-02 15:04:05"

	// RangeTimeFormat prints range boundaries with microsecond precision
	RangeTimeFormat = "2006-01-02 15:04:05.000000"

	// fileTimeFormat is used in file names and avoids characters that are
	// unsafe in paths
	fileTimeFormat = "2006-01-02T15-04-05.000000"
)

// TimeRange is a closed interval [Start, End] handed to one worker.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t lies in the closed interval.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// FileStem encodes the range into a file name without extension.
func (r TimeRange) FileStem() string {
	return r.Start.Format(fileTimeFormat) + "_" + r.End.Format(fileTimeFormat)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format(RangeTimeFormat), r.End.Format(RangeTimeFormat))
}

// ParseTime parses a run boundary in InputTimeFormat as UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(InputTimeFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected format %q: %w", s, InputTimeFormat, err)
	}
	return t, nil
}

// UnixSeconds converts a time to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds converts fractional unix seconds to a UTC time with
// microsecond precision.
func FromUnixSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6))).UTC()
}
