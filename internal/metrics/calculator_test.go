package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

var testTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// stubPrices is a PriceSource backed by maps
type stubPrices struct {
	current map[string]float64
	close_  map[string]float64
}

func priceKey(conditionID string, outcome int) string {
	return fmt.Sprintf("%s/%d", conditionID, outcome)
}

func (s *stubPrices) CurrentPrice(conditionID string, outcome int) (float64, bool) {
	v, ok := s.current[priceKey(conditionID, outcome)]
	return v, ok
}

func (s *stubPrices) ClosePrice(conditionID string, outcome int) (float64, bool) {
	v, ok := s.close_[priceKey(conditionID, outcome)]
	return v, ok
}

var posSeq int

// settledPos builds one finished position whose lots realize the given P&L
func settledPos(status types.PositionStatus, pnl, cost, entryPrice, payout float64, exitOffset time.Duration) *PositionResult {
	posSeq++
	key := models.PositionKey{
		Wallet:      "0xabc0000000000000000000000000000000000001",
		ConditionID: fmt.Sprintf("0xcond%04d", posSeq),
		Outcome:     0,
	}
	tokens := cost / entryPrice

	pos := &models.Position{
		Key:           key,
		Status:        status,
		TotalBought:   tokens,
		TotalDisposed: tokens,
		TotalCostUSD:  cost,
		TotalProceeds: cost + pnl,
		FirstEntry:    testTime.Add(exitOffset - 24*time.Hour),
		LastExit:      testTime.Add(exitOffset),
		Resolved:      status == types.PositionResolved,
		PayoutPerUnit: payout,
	}

	lot := &models.Lot{
		Wallet:          key.Wallet,
		ConditionID:     key.ConditionID,
		Outcome:         key.Outcome,
		FillID:          fmt.Sprintf("fill%04d", posSeq),
		EntryTime:       pos.FirstEntry,
		Tokens:          tokens,
		CostUSD:         cost,
		AvgEntryPrice:   entryPrice,
		TokensSoldEarly: tokens,
		ExitValue:       cost + pnl,
		RealizedPnL:     pnl,
		Status:          status,
	}

	return &PositionResult{Position: pos, Lots: []*models.Lot{lot}}
}

// openPos builds one open position holding tokens at the given entry price
func openPos(tokensHeld, entryPrice float64) *PositionResult {
	posSeq++
	key := models.PositionKey{
		Wallet:      "0xabc0000000000000000000000000000000000001",
		ConditionID: fmt.Sprintf("0xcond%04d", posSeq),
		Outcome:     0,
	}
	cost := tokensHeld * entryPrice

	pos := &models.Position{
		Key:          key,
		Status:       types.PositionOpen,
		TotalBought:  tokensHeld,
		TotalCostUSD: cost,
		FirstEntry:   testTime.Add(-48 * time.Hour),
	}
	lot := &models.Lot{
		Wallet:        key.Wallet,
		ConditionID:   key.ConditionID,
		Outcome:       key.Outcome,
		EntryTime:     pos.FirstEntry,
		Tokens:        tokensHeld,
		CostUSD:       cost,
		AvgEntryPrice: entryPrice,
		TokensHeld:    tokensHeld,
		Status:        types.PositionOpen,
	}
	return &PositionResult{Position: pos, Lots: []*models.Lot{lot}}
}

func input(positions ...*PositionResult) *Input {
	return &Input{
		Wallet:    "0xabc0000000000000000000000000000000000001",
		Window:    types.WindowLifetime,
		Category:  types.CategoryAll,
		Positions: positions,
		Now:       testTime,
	}
}

func TestComputeRealizedAndWinRate(t *testing.T) {
	row := Compute(input(
		settledPos(types.PositionClosed, 100, 200, 0.50, 0, 0),
		settledPos(types.PositionClosed, -40, 100, 0.40, 0, time.Hour),
		settledPos(types.PositionClosed, 30, 150, 0.60, 0, 2*time.Hour),
	))

	assert.InDelta(t, 90, row.RealizedPnL, 1e-9)
	assert.Equal(t, 3, row.ClosedPositions)
	require.NotNil(t, row.WinRatePct)
	assert.InDelta(t, 200.0/3, *row.WinRatePct, 1e-9)
	require.NotNil(t, row.ProfitFactor)
	assert.InDelta(t, 130.0/40, *row.ProfitFactor, 1e-9)
}

func TestComputeRealizedIncludesSoldEarlySlice(t *testing.T) {
	// An open position that sold 300 of 1000 tokens early: the sold slice is
	// realized money even though the position is excluded from trade stats.
	partial := openPos(700, 0.50)
	pos := partial.Position
	pos.TotalBought = 1000
	pos.TotalDisposed = 300
	pos.TotalCostUSD = 500
	pos.TotalProceeds = 195
	pos.LastExit = testTime.Add(-time.Hour)
	partial.Lots[0].TokensSoldEarly = 300
	partial.Lots[0].Tokens = 1000
	partial.Lots[0].CostUSD = 500
	partial.Lots[0].ExitValue = 195
	partial.Lots[0].RealizedPnL = 45

	row := Compute(input(partial))

	assert.InDelta(t, 45, row.RealizedPnL, 1e-9)
	assert.Equal(t, 1, row.OpenPositions)
	assert.Zero(t, row.ClosedPositions)
	assert.Nil(t, row.WinRatePct, "open positions are not closed trades")
}

func TestComputeProfitFactorZeroLossesCapped(t *testing.T) {
	row := Compute(input(
		settledPos(types.PositionClosed, 50, 100, 0.50, 0, 0),
		settledPos(types.PositionClosed, 20, 80, 0.40, 0, time.Hour),
	))

	require.NotNil(t, row.ProfitFactor)
	assert.Equal(t, UnboundedSentinel, *row.ProfitFactor)
}

func TestComputeROINullWithZeroCapital(t *testing.T) {
	row := Compute(input())

	assert.Nil(t, row.ROIPct)
	assert.Zero(t, row.RealizedPnL)
	require.NotNil(t, row.NetPnL) // no open positions means unrealized is exactly 0
	assert.Zero(t, *row.NetPnL)
}

func TestComputeUnrealizedNeedsCurrentPrice(t *testing.T) {
	open := openPos(500, 0.40)

	in := input(open)
	in.Prices = &stubPrices{current: map[string]float64{}}
	row := Compute(in)
	assert.Nil(t, row.UnrealizedPnL, "missing price must null, not zero")
	assert.Nil(t, row.NetPnL)
	assert.Nil(t, row.ROIPct)

	in.Prices = &stubPrices{current: map[string]float64{
		priceKey(open.Position.Key.ConditionID, 0): 0.55,
	}}
	row = Compute(in)
	require.NotNil(t, row.UnrealizedPnL)
	assert.InDelta(t, (0.55-0.40)*500, *row.UnrealizedPnL, 1e-9)
	require.NotNil(t, row.ROIPct)
	assert.InDelta(t, 75.0/200*100, *row.ROIPct, 1e-9)
}

func TestComputeBrierScoreExample(t *testing.T) {
	// Forecast/outcome pairs (0.65,1), (0.80,0), (0.70,0): brier ≈ 0.4175
	row := Compute(input(
		settledPos(types.PositionResolved, 35, 65, 0.65, 1, 0),
		settledPos(types.PositionResolved, -80, 80, 0.80, 0, time.Hour),
		settledPos(types.PositionResolved, -70, 70, 0.70, 0, 2*time.Hour),
	))

	require.NotNil(t, row.BrierScore)
	assert.InDelta(t, 0.4175, *row.BrierScore, 1e-3)
	require.NotNil(t, row.LogScore)
	assert.Equal(t, 3, row.CalibratedOver)
}

func TestComputeCalibrationSkipsUnresolved(t *testing.T) {
	row := Compute(input(
		settledPos(types.PositionClosed, 10, 50, 0.50, 0, 0),
	))

	assert.Nil(t, row.BrierScore)
	assert.Nil(t, row.LogScore)
	assert.Zero(t, row.CalibratedOver)
}

func TestComputeCLVExcludesMissingClose(t *testing.T) {
	winner := settledPos(types.PositionResolved, 40, 60, 0.60, 1, 0)
	noClose := settledPos(types.PositionResolved, -50, 50, 0.50, 0, time.Hour)

	in := input(winner, noClose)
	in.Prices = &stubPrices{close_: map[string]float64{
		priceKey(winner.Position.Key.ConditionID, 0): 0.90,
	}}
	row := Compute(in)

	require.NotNil(t, row.CLVBps)
	assert.Equal(t, 1, row.CLVSamples)
	assert.InDelta(t, (0.90-0.60)/0.60*10000, *row.CLVBps, 1e-6)
}

func TestComputeKellyNegativeEdgeIsValid(t *testing.T) {
	// 1 win of $10 against 3 losses of $20: clearly negative edge
	row := Compute(input(
		settledPos(types.PositionClosed, 10, 50, 0.50, 0, 0),
		settledPos(types.PositionClosed, -20, 50, 0.50, 0, time.Hour),
		settledPos(types.PositionClosed, -20, 50, 0.50, 0, 2*time.Hour),
		settledPos(types.PositionClosed, -20, 50, 0.50, 0, 3*time.Hour),
	))

	require.NotNil(t, row.KellyPct)
	assert.Negative(t, *row.KellyPct)
}

func TestComputeRiskRatiosNeedTenPeriods(t *testing.T) {
	var few []*PositionResult
	for i := 0; i < 5; i++ {
		few = append(few, settledPos(types.PositionClosed, float64(10-i*4), 100, 0.50, 0, time.Duration(i)*24*time.Hour))
	}
	row := Compute(input(few...))
	assert.Equal(t, 5, row.ReturnPeriods)
	assert.Nil(t, row.SharpeRatio)
	assert.Nil(t, row.SortinoRatio)
	assert.Nil(t, row.OmegaRatio)

	var many []*PositionResult
	for i := 0; i < 12; i++ {
		pnl := float64(15 - i*3) // mix of gains and losses
		many = append(many, settledPos(types.PositionClosed, pnl, 100, 0.50, 0, time.Duration(i)*24*time.Hour))
	}
	row = Compute(input(many...))
	assert.Equal(t, 12, row.ReturnPeriods)
	require.NotNil(t, row.SharpeRatio)
	require.NotNil(t, row.SortinoRatio)
	require.NotNil(t, row.OmegaRatio)
	require.NotNil(t, row.MaxDrawdownPct)
}

func TestComputeOmegaZeroLossesCapped(t *testing.T) {
	var prs []*PositionResult
	for i := 0; i < 12; i++ {
		prs = append(prs, settledPos(types.PositionClosed, 5, 100, 0.50, 0, time.Duration(i)*24*time.Hour))
	}
	row := Compute(input(prs...))

	require.NotNil(t, row.OmegaRatio)
	assert.Equal(t, UnboundedSentinel, *row.OmegaRatio)
}

func TestComputeBehavioralStreaks(t *testing.T) {
	row := Compute(input(
		settledPos(types.PositionClosed, 10, 100, 0.50, 0, 0),
		settledPos(types.PositionClosed, 10, 100, 0.50, 0, time.Hour),
		settledPos(types.PositionClosed, -10, 100, 0.50, 0, 2*time.Hour),
		settledPos(types.PositionClosed, 10, 100, 0.50, 0, 3*time.Hour),
	))

	assert.Equal(t, 2, row.MaxConsecutiveWins)
	assert.Equal(t, 1, row.MaxConsecutiveLosses)
	require.NotNil(t, row.AvgHoldHours)
	assert.InDelta(t, 24, *row.AvgHoldHours, 1e-9)
}

func TestValidateNullsOutOfRange(t *testing.T) {
	bad := 140.0
	row := &models.WalletMetricsRow{WinRatePct: &bad}
	Validate(row)

	assert.Nil(t, row.WinRatePct)
	assert.Contains(t, row.ValidationFlags, "win_rate_pct:out_of_range")
}
