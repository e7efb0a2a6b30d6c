// Package fifo implements chronological first-in-first-out cost-basis
// matching for one (wallet, market, outcome) position.
//
// Matching is pure and deterministic: the same fill set always yields the
// same lot set, so a position can be recomputed at any time and its lots
// replaced wholesale. The matcher never does I/O.
package fifo

import (
	"math"
	"sort"
	"time"

	"github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// Epsilon is the token-quantity tolerance used for position classification
// and the oversold integrity check. Quantities this small are rounding dust
// from fixed-point order sizes, not real exposure.
const Epsilon = 0.01

// Resolution carries the market's settlement state for one outcome
type Resolution struct {
	Resolved      bool
	PayoutPerUnit float64 // Settlement value per token (0 or 1 for binary markets)
}

// BuildPosition aggregates the fills of one position, validates them, and
// classifies the position as open, closed, or resolved.
//
// The input must be deduplicated upstream; a duplicate fill identifier or a
// fill with no timestamp is a computation-fatal error for the unit, never
// silently dropped.
func BuildPosition(key models.PositionKey, fills []*models.Fill, res Resolution) (*models.Position, error) {
	pos := &models.Position{
		Key:           key,
		Resolved:      res.Resolved,
		PayoutPerUnit: res.PayoutPerUnit,
	}

	seen := make(map[string]bool, len(fills))
	for _, f := range fills {
		if f.Key() != key {
			return nil, errors.NewUnorderedFillsError(key.Wallet, key.ConditionID, key.Outcome,
				"fill belongs to a different position")
		}
		if f.Timestamp.IsZero() {
			return nil, errors.NewUnorderedFillsError(key.Wallet, key.ConditionID, key.Outcome,
				"fill has no execution timestamp")
		}
		if seen[f.FillID] {
			return nil, errors.NewDuplicateFillError(key.Wallet, key.ConditionID, key.Outcome, f.FillID)
		}
		seen[f.FillID] = true

		switch f.Side() {
		case types.SideBuy:
			pos.Buys = append(pos.Buys, f)
			pos.TotalBought += f.Tokens()
			pos.TotalCostUSD += f.CashUSD()
			if pos.FirstEntry.IsZero() || f.Timestamp.Before(pos.FirstEntry) {
				pos.FirstEntry = f.Timestamp
			}
		case types.SideSell:
			pos.Sells = append(pos.Sells, f)
			pos.TotalDisposed += f.Tokens()
			pos.TotalProceeds += f.CashUSD()
			if f.Timestamp.After(pos.LastExit) {
				pos.LastExit = f.Timestamp
			}
		}
	}

	// Oversold beyond tolerance is a data-integrity error: report it, do not clip
	if pos.TotalDisposed > pos.TotalBought+Epsilon {
		return nil, errors.NewOversoldPositionError(key.Wallet, key.ConditionID, key.Outcome,
			pos.TotalBought, pos.TotalDisposed)
	}

	sortByTimeThenID(pos.Buys)
	sortByTimeThenID(pos.Sells)

	remaining := pos.TotalBought - pos.TotalDisposed
	switch {
	case math.Abs(remaining) <= Epsilon:
		pos.Status = types.PositionClosed
	case res.Resolved:
		pos.Status = types.PositionResolved
		// Held tokens settle at the payout: same matching mechanism, the
		// disposal pool just gains a settlement leg.
		pos.TotalDisposed += remaining
		pos.TotalProceeds += remaining * res.PayoutPerUnit
		if pos.LastExit.IsZero() {
			pos.LastExit = lastBuyTime(pos.Buys)
		}
	default:
		pos.Status = types.PositionOpen
	}

	return pos, nil
}

// Match attributes the position's disposal pool to its buy fills in
// chronological order and returns the resulting lot set.
//
// The running cumulative counter is the sequential form of a windowed
// cumulative sum: everything bought strictly before the current fill has
// first claim on the disposed quantity.
func Match(pos *models.Position, matchVersion int64) []*models.Lot {
	lots := make([]*models.Lot, 0, len(pos.Buys))

	var exitPrice float64
	if pos.TotalDisposed > 0 {
		exitPrice = pos.TotalProceeds / pos.TotalDisposed
	}

	var cumulativeBefore float64
	for _, buy := range pos.Buys {
		tokens := buy.Tokens()
		cost := buy.CashUSD()

		remainingToMatch := pos.TotalDisposed - cumulativeBefore
		if remainingToMatch < 0 {
			remainingToMatch = 0
		}

		soldEarly := math.Min(tokens, remainingToMatch)
		held := tokens - soldEarly
		exitValue := soldEarly * exitPrice

		var avgEntry float64
		if tokens > 0 {
			avgEntry = cost / tokens
		}

		lots = append(lots, &models.Lot{
			Wallet:          pos.Key.Wallet,
			ConditionID:     pos.Key.ConditionID,
			Outcome:         pos.Key.Outcome,
			FillID:          buy.FillID,
			EntryTime:       buy.Timestamp,
			Tokens:          tokens,
			CostUSD:         cost,
			AvgEntryPrice:   avgEntry,
			TokensSoldEarly: soldEarly,
			TokensHeld:      held,
			ExitValue:       exitValue,
			RealizedPnL:     exitValue - avgEntry*soldEarly,
			Status:          pos.Status,
			MatchVersion:    matchVersion,
		})

		cumulativeBefore += tokens
	}

	return lots
}

// MatchFills builds and matches a position in one call
func MatchFills(key models.PositionKey, fills []*models.Fill, res Resolution, matchVersion int64) (*models.Position, []*models.Lot, error) {
	pos, err := BuildPosition(key, fills, res)
	if err != nil {
		return nil, nil, err
	}
	return pos, Match(pos, matchVersion), nil
}

// GroupByPosition splits a wallet's fill stream into per-position slices
func GroupByPosition(fills []*models.Fill) map[models.PositionKey][]*models.Fill {
	grouped := make(map[models.PositionKey][]*models.Fill)
	for _, f := range fills {
		key := f.Key()
		grouped[key] = append(grouped[key], f)
	}
	return grouped
}

// sortByTimeThenID orders fills ascending by execution time, breaking ties
// on the fill identifier so matching is deterministic for same-second fills.
func sortByTimeThenID(fills []*models.Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		if fills[i].Timestamp.Equal(fills[j].Timestamp) {
			return fills[i].FillID < fills[j].FillID
		}
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
}

func lastBuyTime(buys []*models.Fill) time.Time {
	var last time.Time
	for _, b := range buys {
		if b.Timestamp.After(last) {
			last = b.Timestamp
		}
	}
	return last
}
