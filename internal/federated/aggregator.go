// Package federated keeps a single running sample-weighted average of the
// weight vectors submitted by clients.
package federated

import (
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/medaiml/internal/errs"
)

// Aggregate is a settled snapshot of the running average.
type Aggregate struct {
	Weights       []float32 `json:"weights"`
	Samples       uint64    `json:"num_samples"`
	Contributions int       `json:"contributions"`
	Version       uint64    `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Aggregator merges contributions into one average. It is not safe for
// concurrent use; callers serialize mutations.
type Aggregator struct {
	cur   *Aggregate
	clock func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{clock: time.Now}
}

// Merge folds (weights, samples) into the aggregate. The first
// contribution is taken verbatim. Later ones must have the same length.
// A rejected contribution leaves the aggregate unchanged.
func (a *Aggregator) Merge(weights []float32, samples uint64) error {
	if samples == 0 {
		return fmt.Errorf("contribution has zero samples: %w", errs.ErrInvalidInput)
	}
	if a.cur == nil {
		a.cur = &Aggregate{
			Weights:       slices.Clone(weights),
			Samples:       samples,
			Contributions: 1,
			Version:       1,
			UpdatedAt:     a.clock(),
		}
		return nil
	}
	if len(weights) != len(a.cur.Weights) {
		return errs.NewShapeMismatch("contribution weights", len(a.cur.Weights), len(weights))
	}

	total := a.cur.Samples + samples
	if total < samples {
		return fmt.Errorf("cumulative sample count overflows: %w", errs.ErrInvalidInput)
	}
	nCur, nNew, nTot := float64(a.cur.Samples), float64(samples), float64(total)
	next := make([]float32, len(weights))
	for i, w := range weights {
		next[i] = float32((float64(a.cur.Weights[i])*nCur + float64(w)*nNew) / nTot)
	}

	a.cur = &Aggregate{
		Weights:       next,
		Samples:       total,
		Contributions: a.cur.Contributions + 1,
		Version:       a.cur.Version + 1,
		UpdatedAt:     a.clock(),
	}
	return nil
}

// Snapshot returns a copy of the aggregate, or false when nothing has been
// merged yet.
func (a *Aggregator) Snapshot() (Aggregate, bool) {
	if a.cur == nil {
		return Aggregate{}, false
	}
	out := *a.cur
	out.Weights = slices.Clone(a.cur.Weights)
	return out, true
}
