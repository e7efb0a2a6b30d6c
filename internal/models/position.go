package models

import (
	"time"

	"github.com/pnl-engine/internal/types"
)

// Position is the derived aggregate of all fills for one (wallet, market,
// outcome) tuple. It is never stored directly; the matcher rebuilds it from
// the fill stream on every pass.
type Position struct {
	Key    PositionKey
	Buys   []*Fill // Ascending by (timestamp, fill id)
	Sells  []*Fill
	Status types.PositionStatus

	TotalBought   float64 // Sum of buy token quantities
	TotalDisposed float64 // Sum of sell token quantities plus any settlement payout quantity
	TotalCostUSD  float64 // Sum of buy cash
	TotalProceeds float64 // Sale proceeds, plus settlement payout for resolved positions

	FirstEntry time.Time
	LastExit   time.Time

	// Resolution inputs, populated from the market catalog when the market
	// has finalized.
	Resolved      bool
	PayoutPerUnit float64 // Settlement value per token for this outcome (0 or 1 for binary)
}

// NetHolding returns bought minus disposed token quantity
func (p *Position) NetHolding() float64 {
	return p.TotalBought - p.TotalDisposed
}

// AvgEntryPrice returns cost over bought quantity, or 0 for an empty position
func (p *Position) AvgEntryPrice() float64 {
	if p.TotalBought == 0 {
		return 0
	}
	return p.TotalCostUSD / p.TotalBought
}

// EntryProbability returns the average entry price interpreted as the
// wallet's stated probability for this outcome. Prediction-market token
// prices live on [0,1], so the entry price doubles as a forecast.
func (p *Position) EntryProbability() float64 {
	return p.AvgEntryPrice()
}
