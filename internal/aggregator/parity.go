package aggregator

import (
	"context"
	"fmt"
	"math"
)

type paritySource interface {
	SumLifetimeRealized(ctx context.Context, matchVersion int64) (float64, error)
}

type parityGround interface {
	SumRealizedPnL(ctx context.Context, matchVersion int64) (float64, error)
}

// ParityResult is the outcome of the cross-check between the aggregated
// metrics rows and the lot store they were derived from.
type ParityResult struct {
	Aggregate float64 `json:"aggregate"` // Σ realized P&L over lifetime/all metrics rows
	Ground    float64 `json:"ground"`    // Σ lot realized P&L straight from the lot store
	Diff      float64 `json:"diff"`
	Passed    bool    `json:"passed"`
}

// checkParity verifies that total realized P&L reported by the metrics rows
// equals the total realized P&L of the lots they were computed from. A
// mismatch means the pipeline dropped or double-counted money somewhere, and
// the run must not be published.
func checkParity(ctx context.Context, aggregate paritySource, ground parityGround, matchVersion int64, tolerance float64) (*ParityResult, error) {
	aggregateSum, err := aggregate.SumLifetimeRealized(ctx, matchVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to sum aggregate pnl: %w", err)
	}

	groundSum, err := ground.SumRealizedPnL(ctx, matchVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ground pnl: %w", err)
	}

	diff := math.Abs(aggregateSum - groundSum)
	return &ParityResult{
		Aggregate: aggregateSum,
		Ground:    groundSum,
		Diff:      diff,
		Passed:    diff <= tolerance,
	}, nil
}
