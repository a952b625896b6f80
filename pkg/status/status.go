// Package status keeps a ledger of per-range outcomes of loader runs so that
// failed ranges can be found and re-run by hand.
package status

import (
	"context"
	"time"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// RangeStatus is the ledger entry of one range of a run
type RangeStatus struct {
	Index     int       `json:"index"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	State     State     `json:"state"`
	Target    string    `json:"target,omitempty"`
	Rows      int64     `json:"rows"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRangeStatus returns the entry of range r at index i in state
func NewRangeStatus(i int, r models.TimeRange, state State) RangeStatus {
	return RangeStatus{
		Index:     i,
		Start:     r.Start.Format(models.RangeTimeFormat),
		End:       r.End.Format(models.RangeTimeFormat),
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

// Recorder stores range outcomes
type Recorder interface {
	// Begin registers all ranges of a run as pending
	Begin(ctx context.Context, runID string, ranges []models.TimeRange) error

	// Update replaces the entry of one range
	Update(ctx context.Context, runID string, st RangeStatus) error
}

// Nop discards everything
type Nop struct{}

func (Nop) Begin(ctx context.Context, runID string, ranges []models.TimeRange) error {
	return nil
}

func (Nop) Update(ctx context.Context, runID string, st RangeStatus) error {
	return nil
}
