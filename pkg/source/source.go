// Package source opens streams of routing updates scoped to a time range.
//
// The collection service does the BGP parsing. Providers only expose its
// records as a forward-only sequence of models.Update values.
package source

import (
	"context"
	"errors"
	"slices"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// RecordTypeUpdates asks the collection service for update records only
const RecordTypeUpdates = "updates"

// ErrFilterUnsupported is returned by providers that cannot apply filter expressions
var ErrFilterUnsupported = errors.New("filter expressions are not supported by this source")

// Query scopes a stream.
type Query struct {
	Collectors []string
	Range      models.TimeRange

	// Filter is passed to the collection service unchanged
	Filter     string
	RecordType string
}

// Stream is a finite, forward-only sequence of updates.
type Stream interface {
	// Next returns the next update, or io.EOF once the stream is exhausted
	Next(ctx context.Context) (*models.Update, error)
	Close() error
}

// Provider opens streams. Open's ctx bounds the lifetime of the returned stream.
type Provider interface {
	Open(ctx context.Context, q Query) (Stream, error)
}

// matches reports whether u belongs to the collectors and range of q
func (q Query) matches(u *models.Update) bool {
	if len(q.Collectors) > 0 && !slices.Contains(q.Collectors, u.Collector) {
		return false
	}
	return q.Range.Contains(models.FromUnixSeconds(u.Time))
}
