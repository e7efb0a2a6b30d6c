package models

import (
	"math"
	"time"

	"github.com/pnl-engine/internal/types"
)

// Fill represents one executed trade leg for a wallet in a market outcome.
// Fills are immutable once ingested: the fill store only appends, or replaces
// a row wholesale under the same natural key when the ingester re-delivers it.
type Fill struct {
	Wallet      string    `json:"wallet"`      // Proxy wallet address (lowercase hex)
	ConditionID string    `json:"conditionId"` // Market/condition identifier
	Outcome     int       `json:"outcome"`     // Outcome slot index (0/1 for binary markets)
	FillID      string    `json:"fillId"`      // Unique fill identifier used for dedup
	TokenDelta  float64   `json:"tokenDelta"`  // Signed token quantity (positive = acquire)
	CashDelta   float64   `json:"cashDelta"`   // Signed USDC delta (negative = cash out the door)
	Timestamp   time.Time `json:"timestamp"`   // Execution time
	IsMaker     bool      `json:"isMaker"`     // Maker side of the matched order
}

// Side derives the trade side from the sign of the token delta
func (f *Fill) Side() types.FillSide {
	if f.TokenDelta >= 0 {
		return types.SideBuy
	}
	return types.SideSell
}

// Tokens returns the unsigned token quantity
func (f *Fill) Tokens() float64 {
	return math.Abs(f.TokenDelta)
}

// CashUSD returns the unsigned cash amount
func (f *Fill) CashUSD() float64 {
	return math.Abs(f.CashDelta)
}

// Price returns the per-token execution price, or 0 for a zero-quantity fill
func (f *Fill) Price() float64 {
	tokens := f.Tokens()
	if tokens == 0 {
		return 0
	}
	return f.CashUSD() / tokens
}

// PositionKey identifies one (wallet, market, outcome) position
type PositionKey struct {
	Wallet      string `json:"wallet"`
	ConditionID string `json:"conditionId"`
	Outcome     int    `json:"outcome"`
}

// Key returns the position this fill belongs to
func (f *Fill) Key() PositionKey {
	return PositionKey{Wallet: f.Wallet, ConditionID: f.ConditionID, Outcome: f.Outcome}
}
