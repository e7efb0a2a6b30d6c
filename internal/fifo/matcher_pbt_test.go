package fifo

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pnl-engine/internal/models"
)

// randomPosition builds a position from generated buy quantities, a shared
// entry price, and a disposal fraction of the total bought quantity.
func randomPosition(tokens []float64, entryPrice, exitPrice, disposedFrac float64) []*models.Fill {
	fills := make([]*models.Fill, 0, len(tokens)+1)
	var totalBought float64

	for i, qty := range tokens {
		fills = append(fills, &models.Fill{
			Wallet:      testKey.Wallet,
			ConditionID: testKey.ConditionID,
			Outcome:     testKey.Outcome,
			FillID:      fmt.Sprintf("buy-%03d", i),
			TokenDelta:  qty,
			CashDelta:   -qty * entryPrice,
			Timestamp:   baseTime.Add(time.Duration(i) * time.Minute),
		})
		totalBought += qty
	}

	disposed := totalBought * disposedFrac
	if disposed > 0 {
		fills = append(fills, &models.Fill{
			Wallet:      testKey.Wallet,
			ConditionID: testKey.ConditionID,
			Outcome:     testKey.Outcome,
			FillID:      "sell-000",
			TokenDelta:  -disposed,
			CashDelta:   disposed * exitPrice,
			Timestamp:   baseTime.Add(time.Duration(len(tokens)) * time.Minute),
		})
	}

	return fills
}

func TestMatchInvariantsHoldForRandomPositions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	buyQuantities := gen.SliceOfN(8, gen.Float64Range(0.5, 2000)).
		SuchThat(func(v []float64) bool { return len(v) > 0 })

	properties.Property("lot quantities and proceeds reconcile with the fill totals", prop.ForAll(
		func(tokens []float64, entryPrice, exitPrice, disposedFrac float64) bool {
			fills := randomPosition(tokens, entryPrice, exitPrice, disposedFrac)

			pos, lots, err := MatchFills(testKey, fills, Resolution{}, 1)
			if err != nil {
				return false
			}

			var lotTokens, soldEarly, exitValue, held float64
			for _, lot := range lots {
				if lot.TokensSoldEarly > lot.Tokens+1e-9 {
					return false
				}
				lotTokens += lot.Tokens
				soldEarly += lot.TokensSoldEarly
				exitValue += lot.ExitValue
				held += lot.TokensHeld
			}

			return math.Abs(lotTokens-pos.TotalBought) <= Epsilon &&
				math.Abs(soldEarly-pos.TotalDisposed) <= Epsilon &&
				math.Abs(exitValue-pos.TotalProceeds) <= Epsilon &&
				math.Abs(held-pos.NetHolding()) <= Epsilon
		},
		buyQuantities,
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0, 1),
	))

	properties.Property("matching is deterministic regardless of input order", prop.ForAll(
		func(tokens []float64, entryPrice, exitPrice, disposedFrac float64) bool {
			fills := randomPosition(tokens, entryPrice, exitPrice, disposedFrac)

			_, forward, err := MatchFills(testKey, fills, Resolution{}, 1)
			if err != nil {
				return false
			}

			reversed := make([]*models.Fill, len(fills))
			for i, f := range fills {
				reversed[len(fills)-1-i] = f
			}
			_, backward, err := MatchFills(testKey, reversed, Resolution{}, 1)
			if err != nil {
				return false
			}

			if len(forward) != len(backward) {
				return false
			}
			for i := range forward {
				if *forward[i] != *backward[i] {
					return false
				}
			}
			return true
		},
		buyQuantities,
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
