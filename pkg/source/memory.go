package source

import (
	"context"
	"io"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// MemoryProvider serves updates held in memory, selecting those of the
// requested collectors and range in slice order.
type MemoryProvider struct {
	Updates []*models.Update
}

// Open returns a stream over the matching updates
func (p *MemoryProvider) Open(ctx context.Context, q Query) (Stream, error) {
	if q.Filter != "" {
		return nil, ErrFilterUnsupported
	}
	return &memoryStream{query: q, updates: p.Updates}, nil
}

type memoryStream struct {
	query   Query
	updates []*models.Update
	pos     int
}

func (s *memoryStream) Next(ctx context.Context) (*models.Update, error) {
	for s.pos < len(s.updates) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := s.updates[s.pos]
		s.pos++
		if s.query.matches(u) {
			return u, nil
		}
	}
	return nil, io.EOF
}

func (s *memoryStream) Close() error {
	return nil
}
