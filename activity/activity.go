package activity

import (
	"context"
	"fmt"

	"paymaster/period"
)

// Source answers cumulative activity counters for one chain's indexer. The
// boolean reports whether the indexer tracks the recipient at that block;
// absence is a normal condition, not an error.
type Source interface {
	Cumulative(ctx context.Context, id string, block uint64) (float64, bool, error)
}

// ChainSource binds a Source to the chain whose resolved block span it reads.
type ChainSource struct {
	Chain  string
	Source Source
}

// Delta is a recipient's activity within the period, summed across chains.
type Delta struct {
	ID    string
	Value float64
}

// Deltas fetches the start and end snapshot for every recipient on every
// chain and returns the per-recipient sum of the end-minus-start differences.
// A missing snapshot on either side reads as zero: recipients onboarded or
// retired mid-period contribute whatever the indexer saw. A counter that
// decreased yields a negative delta and flows through untouched.
func Deltas(ctx context.Context, ids []string, sources []ChainSource, res period.Resolution) ([]Delta, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("activity: no sources configured")
	}
	deltas := make([]Delta, 0, len(ids))
	for _, id := range ids {
		total := 0.0
		for _, src := range sources {
			span, ok := res[src.Chain]
			if !ok {
				return nil, fmt.Errorf("activity: no resolved blocks for chain %s", src.Chain)
			}
			start, _, err := src.Source.Cumulative(ctx, id, span.Start)
			if err != nil {
				return nil, fmt.Errorf("activity: %s start snapshot for %s: %w", src.Chain, id, err)
			}
			end, _, err := src.Source.Cumulative(ctx, id, span.End)
			if err != nil {
				return nil, fmt.Errorf("activity: %s end snapshot for %s: %w", src.Chain, id, err)
			}
			total += end - start
		}
		deltas = append(deltas, Delta{ID: id, Value: total})
	}
	return deltas, nil
}

// Sum returns the total of all delta values.
func Sum(deltas []Delta) float64 {
	total := 0.0
	for _, d := range deltas {
		total += d.Value
	}
	return total
}
