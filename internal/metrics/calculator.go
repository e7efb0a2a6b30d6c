// Package metrics derives the wallet performance battery from matched lots.
// Every function here is pure: inputs are the lot/position set for one
// (wallet, window, category) cell plus externally supplied prices, and the
// output is one fully-populated metrics row. Metrics that cannot be computed
// are nil, never zero.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// UnboundedSentinel is the display cap for ratios whose loss leg is zero
// (profit factor, Omega). Any consistent large sentinel works; consumers
// must treat it as "no losses", not as a finite ratio.
const UnboundedSentinel = 999.0

// MinReturnPeriods is the minimum number of daily return periods required
// before a risk-adjusted ratio is reported. Below this the ratio is noise.
const MinReturnPeriods = 10

// periodsPerYear annualizes daily returns; prediction markets trade every day
const periodsPerYear = 365.0

// PriceSource supplies externally-acquired prices. Current prices value open
// holdings; close prices anchor closing line value.
type PriceSource interface {
	CurrentPrice(conditionID string, outcome int) (float64, bool)
	ClosePrice(conditionID string, outcome int) (float64, bool)
}

// PositionResult pairs a matched position with its lot set
type PositionResult struct {
	Position *models.Position
	Lots     []*models.Lot
}

// RealizedPnL sums the realized component over the position's lots
func (pr *PositionResult) RealizedPnL() float64 {
	var pnl float64
	for _, lot := range pr.Lots {
		pnl += lot.RealizedPnL
	}
	return pnl
}

// Input is everything needed to compute one metrics cell. Positions must
// already be filtered to the cell's window and category by entry timestamp.
type Input struct {
	Wallet       string
	Window       types.TimeWindow
	Category     string
	Positions    []*PositionResult
	Prices       PriceSource
	Oversold     int // Positions excluded from this cell for integrity errors
	MatchVersion int64
	Now          time.Time
}

// Compute derives the full metrics row for one cell and validates it.
// A row is always produced: individual metrics degrade to nil independently.
func Compute(in *Input) *models.WalletMetricsRow {
	row := &models.WalletMetricsRow{
		Wallet:            in.Wallet,
		Window:            in.Window,
		Category:          in.Category,
		OversoldPositions: in.Oversold,
		ComputedAt:        in.Now,
		MatchVersion:      in.MatchVersion,
	}

	settled := make([]*PositionResult, 0, len(in.Positions)) // closed or resolved
	var open []*PositionResult
	for _, pr := range in.Positions {
		switch pr.Position.Status {
		case types.PositionOpen:
			open = append(open, pr)
		default:
			settled = append(settled, pr)
		}
	}

	row.ClosedPositions = countStatus(settled, types.PositionClosed)
	row.ResolvedPositions = countStatus(settled, types.PositionResolved)
	row.OpenPositions = len(open)

	computePnL(row, in, open)
	computeTradeStats(row, settled)
	computeRiskRatios(row, in.Positions)
	computeKelly(row)
	computeCalibration(row, settled)
	computeCLV(row, in.Prices, settled)
	computeBehavioral(row, in, settled)

	Validate(row)
	return row
}

// computePnL fills realized/unrealized/net P&L, capital, volume, and ROI.
// Realized P&L sums lot-level pnl over every position: the sold-early slice
// of an open position is realized money even though the position itself is
// excluded from trade statistics.
func computePnL(row *models.WalletMetricsRow, in *Input, open []*PositionResult) {
	var realized float64
	for _, pr := range in.Positions {
		realized += pr.RealizedPnL()
	}
	row.RealizedPnL = realized

	for _, pr := range in.Positions {
		row.CapitalDeployed += pr.Position.TotalCostUSD
		row.TotalVolumeUSD += pr.Position.TotalCostUSD + pr.Position.TotalProceeds
	}

	// Unrealized P&L needs a current price for every open holding; a missing
	// price nulls the metric rather than undervaluing the wallet.
	unrealized := 0.0
	priced := true
	for _, pr := range open {
		price, ok := priceFor(in.Prices, pr.Position)
		if !ok {
			priced = false
			break
		}
		for _, lot := range pr.Lots {
			unrealized += (price - lot.AvgEntryPrice) * lot.TokensHeld
		}
	}
	if priced {
		row.UnrealizedPnL = ptr(unrealized)
		row.NetPnL = ptr(realized + unrealized)
	}

	// Division by zero capital is "no answer", not zero and not infinity
	if row.NetPnL != nil && row.CapitalDeployed > 0 {
		row.ROIPct = ptr(*row.NetPnL / row.CapitalDeployed * 100)
	}
}

// computeTradeStats fills win/loss counts and dollar distribution stats
func computeTradeStats(row *models.WalletMetricsRow, settled []*PositionResult) {
	total := len(settled)
	if total == 0 {
		return
	}

	var wins, losses int
	var winSum, lossSum, largestWin, largestLoss float64
	for _, pr := range settled {
		pnl := pr.RealizedPnL()
		if pnl > 0 {
			wins++
			winSum += pnl
			if pnl > largestWin {
				largestWin = pnl
			}
		} else if pnl < 0 {
			losses++
			lossSum += pnl
			if pnl < largestLoss {
				largestLoss = pnl
			}
		}
	}

	row.WinningPositions = wins
	row.LosingPositions = losses
	row.WinRatePct = ptr(float64(wins) / float64(total) * 100)

	if wins > 0 {
		row.AvgWinUSD = ptr(winSum / float64(wins))
		row.LargestWinUSD = ptr(largestWin)
	}
	if losses > 0 {
		row.AvgLossUSD = ptr(lossSum / float64(losses))
		row.LargestLossUSD = ptr(largestLoss)
	}

	// Profit factor: zero losses with any wins is unbounded, shown capped
	switch {
	case losses == 0 && wins == 0:
		// No finished trades moved money; leave nil
	case losses == 0:
		row.ProfitFactor = ptr(UnboundedSentinel)
	default:
		row.ProfitFactor = ptr(math.Min(math.Abs(winSum)/math.Abs(lossSum), UnboundedSentinel))
	}

	row.ExpectancyUSD = ptr((winSum + lossSum) / float64(total))

	var sizeSum float64
	for _, pr := range settled {
		sizeSum += pr.Position.TotalCostUSD
	}
	row.AvgTradeSizeUSD = ptr(sizeSum / float64(total))
}

// computeKelly derives the Kelly criterion fraction from the win distribution
func computeKelly(row *models.WalletMetricsRow) {
	if row.WinRatePct == nil || row.AvgWinUSD == nil || row.AvgLossUSD == nil || *row.AvgLossUSD == 0 {
		return
	}

	p := *row.WinRatePct / 100
	q := 1 - p
	b := *row.AvgWinUSD / math.Abs(*row.AvgLossUSD)
	if b == 0 {
		return
	}

	// Negative Kelly is a valid answer: the edge is negative, do not bet
	row.KellyPct = ptr((p*b - q) / b * 100)
}

// computeCalibration fills Brier and log scores over resolved positions
// that carry an entry probability.
func computeCalibration(row *models.WalletMetricsRow, settled []*PositionResult) {
	var brierSum, logSum float64
	var n int

	for _, pr := range settled {
		pos := pr.Position
		if pos.Status != types.PositionResolved || pos.TotalBought == 0 {
			continue
		}

		forecast := pos.EntryProbability()
		if forecast <= 0 || forecast >= 1 {
			continue
		}

		outcome := 0.0
		if pos.PayoutPerUnit > 0 {
			outcome = 1.0
		}

		brierSum += (forecast - outcome) * (forecast - outcome)

		pCorrect := forecast
		if outcome == 0 {
			pCorrect = 1 - forecast
		}
		logSum += math.Log(pCorrect)
		n++
	}

	if n == 0 {
		return
	}

	row.BrierScore = ptr(brierSum / float64(n))
	row.LogScore = ptr(-logSum / float64(n))
	row.CalibratedOver = n
}

// computeCLV fills closing line value in basis points. Positions without a
// recorded close price are excluded from the sample, not zero-filled.
func computeCLV(row *models.WalletMetricsRow, prices PriceSource, settled []*PositionResult) {
	if prices == nil {
		return
	}

	var clvSum float64
	var n int
	for _, pr := range settled {
		pos := pr.Position
		if pos.Status != types.PositionResolved {
			continue
		}
		entry := pos.AvgEntryPrice()
		if entry <= 0 {
			continue
		}
		closePrice, ok := prices.ClosePrice(pos.Key.ConditionID, pos.Key.Outcome)
		if !ok {
			continue
		}

		// Long-the-outcome convention: beating the close means entering
		// below it.
		clvSum += (closePrice - entry) / entry * 10000
		n++
	}

	if n == 0 {
		return
	}
	row.CLVBps = ptr(clvSum / float64(n))
	row.CLVSamples = n
}

// computeBehavioral fills holding-time, cadence, and streak statistics
func computeBehavioral(row *models.WalletMetricsRow, in *Input, settled []*PositionResult) {
	var holdSum float64
	var holds int
	for _, pr := range settled {
		pos := pr.Position
		if pos.FirstEntry.IsZero() || pos.LastExit.IsZero() {
			continue
		}
		holdSum += pos.LastExit.Sub(pos.FirstEntry).Hours()
		holds++
	}
	if holds > 0 {
		row.AvgHoldHours = ptr(holdSum / float64(holds))
	}

	var fills, makerFills int
	var firstFill, lastFill time.Time
	var bought, soldEarly float64
	for _, pr := range in.Positions {
		pos := pr.Position
		for _, f := range append(append([]*models.Fill{}, pos.Buys...), pos.Sells...) {
			fills++
			if f.IsMaker {
				makerFills++
			}
			if firstFill.IsZero() || f.Timestamp.Before(firstFill) {
				firstFill = f.Timestamp
			}
			if f.Timestamp.After(lastFill) {
				lastFill = f.Timestamp
			}
		}
		bought += pos.TotalBought
		for _, s := range pos.Sells {
			soldEarly += s.Tokens()
		}
	}

	if fills > 0 {
		row.MakerPct = ptr(float64(makerFills) / float64(fills) * 100)

		activeDays := lastFill.Sub(firstFill).Hours()/24 + 1
		row.TradesPerDay = ptr(float64(fills) / activeDays)
	}
	if bought > 0 {
		row.EarlyExitRatePct = ptr(math.Min(soldEarly/bought, 1) * 100)
	}

	row.MaxConsecutiveWins, row.MaxConsecutiveLosses = streaks(settled)
}

// streaks returns the longest win and loss runs over settled positions
// ordered by exit time.
func streaks(settled []*PositionResult) (maxWins, maxLosses int) {
	ordered := make([]*PositionResult, len(settled))
	copy(ordered, settled)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position.LastExit.Before(ordered[j].Position.LastExit)
	})

	var winRun, lossRun int
	for _, pr := range ordered {
		pnl := pr.RealizedPnL()
		switch {
		case pnl > 0:
			winRun++
			lossRun = 0
		case pnl < 0:
			lossRun++
			winRun = 0
		default:
			winRun, lossRun = 0, 0
		}
		if winRun > maxWins {
			maxWins = winRun
		}
		if lossRun > maxLosses {
			maxLosses = lossRun
		}
	}
	return maxWins, maxLosses
}

// priceFor looks up the current price for a position's outcome
func priceFor(prices PriceSource, pos *models.Position) (float64, bool) {
	if prices == nil {
		return 0, false
	}
	return prices.CurrentPrice(pos.Key.ConditionID, pos.Key.Outcome)
}

func countStatus(prs []*PositionResult, status types.PositionStatus) int {
	var n int
	for _, pr := range prs {
		if pr.Position.Status == status {
			n++
		}
	}
	return n
}

func ptr(v float64) *float64 {
	return &v
}
