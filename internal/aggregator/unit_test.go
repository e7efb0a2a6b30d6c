package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/refdata"
	"github.com/pnl-engine/internal/types"
)

const testWallet = "0xabc0000000000000000000000000000000000001"

var runTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeFillSource struct {
	fills map[string][]*models.Fill
	err   error
}

func (s *fakeFillSource) GetWalletFills(_ context.Context, wallet string) ([]*models.Fill, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fills[wallet], nil
}

func fill(conditionID, fillID string, tokenDelta, cashDelta float64, at time.Time) *models.Fill {
	return &models.Fill{
		Wallet:      testWallet,
		ConditionID: conditionID,
		Outcome:     0,
		FillID:      fillID,
		TokenDelta:  tokenDelta,
		CashDelta:   cashDelta,
		Timestamp:   at,
	}
}

func testProcessor(fills []*models.Fill, markets []*models.Market, prices []*models.OutcomePrice) *unitProcessor {
	return &unitProcessor{
		fills:        &fakeFillSource{fills: map[string][]*models.Fill{testWallet: fills}},
		catalog:      refdata.NewCatalog(markets),
		prices:       refdata.NewPriceBook(prices),
		matchVersion: 7,
		now:          runTime,
	}
}

func TestUnitProducesLotsAndCells(t *testing.T) {
	entry := runTime.Add(-48 * time.Hour)
	fills := []*models.Fill{
		fill("0xcond1", "b1", 300, -150, entry),
		fill("0xcond1", "b2", 700, -420, entry.Add(time.Minute)),
		fill("0xcond1", "s1", -1000, 650, entry.Add(time.Hour)),
	}
	markets := []*models.Market{{ConditionID: "0xcond1", Category: "politics"}}

	p := testProcessor(fills, markets, nil)
	result, err := p.process(context.Background(), testWallet)
	require.NoError(t, err)

	require.Len(t, result.Lots, 2)
	for _, lot := range result.Lots {
		assert.Equal(t, int64(7), lot.MatchVersion)
		assert.Equal(t, types.PositionClosed, lot.Status)
	}

	// Fully-closed recent position: every window exists for both the
	// category cell and the all cell.
	assert.Len(t, result.Rows, 8)
	lifetime := findRow(t, result.Rows, types.WindowLifetime, types.CategoryAll)
	assert.InDelta(t, 80, lifetime.RealizedPnL, 1e-9)
	assert.Equal(t, 1, lifetime.ClosedPositions)

	politics := findRow(t, result.Rows, types.Window30d, "politics")
	assert.InDelta(t, 80, politics.RealizedPnL, 1e-9)
}

func TestUnitWindowFiltering(t *testing.T) {
	oldEntry := runTime.Add(-120 * 24 * time.Hour)
	fills := []*models.Fill{
		fill("0xcond1", "b1", 100, -50, oldEntry),
		fill("0xcond1", "s1", -100, 80, oldEntry.Add(time.Hour)),
	}

	p := testProcessor(fills, nil, nil)
	result, err := p.process(context.Background(), testWallet)
	require.NoError(t, err)

	// Entered 120 days ago: in the 180d and lifetime windows only
	windows := make(map[types.TimeWindow]bool)
	for _, row := range result.Rows {
		windows[row.Window] = true
	}
	assert.True(t, windows[types.Window180d])
	assert.True(t, windows[types.WindowLifetime])
	assert.False(t, windows[types.Window30d])
	assert.False(t, windows[types.Window90d])
}

func TestUnitOversoldPositionIsExcludedNotFatal(t *testing.T) {
	entry := runTime.Add(-24 * time.Hour)
	fills := []*models.Fill{
		// Oversold: disposes more than bought
		fill("0xbad", "b1", 100, -50, entry),
		fill("0xbad", "s1", -150, 90, entry.Add(time.Hour)),
		// Healthy position in another market
		fill("0xgood", "b2", 200, -100, entry),
		fill("0xgood", "s2", -200, 150, entry.Add(time.Hour)),
	}

	p := testProcessor(fills, nil, nil)
	result, err := p.process(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Oversold)
	require.Len(t, result.Lots, 1, "only the healthy position produces lots")

	lifetime := findRow(t, result.Rows, types.WindowLifetime, types.CategoryAll)
	assert.Equal(t, 1, lifetime.OversoldPositions)
	assert.InDelta(t, 50, lifetime.RealizedPnL, 1e-9)
}

func TestUnitDuplicateFillFailsUnit(t *testing.T) {
	entry := runTime.Add(-24 * time.Hour)
	fills := []*models.Fill{
		fill("0xcond1", "b1", 100, -50, entry),
		fill("0xcond1", "b1", 100, -50, entry.Add(time.Minute)),
	}

	p := testProcessor(fills, nil, nil)
	_, err := p.process(context.Background(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DUPLICATE_FILL")
}

func TestUnitEmptyWalletStillProducesBaseCell(t *testing.T) {
	p := testProcessor(nil, nil, nil)
	result, err := p.process(context.Background(), testWallet)
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	assert.Equal(t, types.WindowLifetime, row.Window)
	assert.Equal(t, types.CategoryAll, row.Category)
	assert.Zero(t, row.RealizedPnL)
}

func TestUnitResolvedPositionSettlesAtPayout(t *testing.T) {
	entry := runTime.Add(-24 * time.Hour)
	fills := []*models.Fill{
		fill("0xcond1", "b1", 1000, -400, entry),
	}
	markets := []*models.Market{{
		ConditionID:      "0xcond1",
		Category:         "sports",
		Resolved:         true,
		PayoutNumerators: []float64{1, 0},
	}}

	p := testProcessor(fills, markets, nil)
	result, err := p.process(context.Background(), testWallet)
	require.NoError(t, err)

	require.Len(t, result.Lots, 1)
	assert.Equal(t, types.PositionResolved, result.Lots[0].Status)
	assert.InDelta(t, 600, result.Lots[0].RealizedPnL, 1e-9)

	lifetime := findRow(t, result.Rows, types.WindowLifetime, types.CategoryAll)
	assert.Equal(t, 1, lifetime.ResolvedPositions)
	assert.InDelta(t, 600, lifetime.RealizedPnL, 1e-9)
}

func findRow(t *testing.T, rows []*models.WalletMetricsRow, window types.TimeWindow, category string) *models.WalletMetricsRow {
	t.Helper()
	for _, row := range rows {
		if row.Window == window && row.Category == category {
			return row
		}
	}
	t.Fatalf("no row for window=%s category=%s", window, category)
	return nil
}

func TestWriterFlushesOnThreshold(t *testing.T) {
	lotSink := &captureLots{}
	rowSink := &captureRows{}
	w := newBatchWriter(lotSink, rowSink, 3, 100)

	unit := &UnitResult{
		Wallet: testWallet,
		Lots:   []*models.Lot{{FillID: "a"}},
		Rows:   []*models.WalletMetricsRow{{Wallet: testWallet}},
	}

	require.NoError(t, w.Add(context.Background(), unit))
	assert.Zero(t, lotSink.calls, "below threshold, nothing written")

	require.NoError(t, w.Add(context.Background(), unit))
	assert.Equal(t, 1, lotSink.calls)
	assert.Equal(t, 2, lotSink.total)
	assert.Equal(t, 2, rowSink.total)

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 1, lotSink.calls, "empty flush writes nothing")
}

type captureLots struct {
	calls int
	total int
}

func (c *captureLots) BatchInsert(_ context.Context, lots []*models.Lot) error {
	c.calls++
	c.total += len(lots)
	return nil
}

type captureRows struct {
	calls int
	total int
}

func (c *captureRows) BatchInsert(_ context.Context, rows []*models.WalletMetricsRow) error {
	c.calls++
	c.total += len(rows)
	return nil
}

type fakeSums struct {
	aggregate float64
	ground    float64
}

func (f *fakeSums) SumLifetimeRealized(context.Context, int64) (float64, error) {
	return f.aggregate, nil
}

func (f *fakeSums) SumRealizedPnL(context.Context, int64) (float64, error) {
	return f.ground, nil
}

func TestParityGate(t *testing.T) {
	sums := &fakeSums{aggregate: 1234.5678, ground: 1234.5699}
	result, err := checkParity(context.Background(), sums, sums, 1, 0.01)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	sums.ground = 1240
	result, err = checkParity(context.Background(), sums, sums, 1, 0.01)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.InDelta(t, 5.4322, result.Diff, 1e-4)
}

func TestParityDriftExample(t *testing.T) {
	// The sums disagreeing by one dropped lot must fail the gate
	for i := 0; i < 3; i++ {
		sums := &fakeSums{aggregate: float64(1000 * i), ground: float64(1000*i) + 17}
		result, err := checkParity(context.Background(), sums, sums, 1, 0.01)
		require.NoError(t, err, fmt.Sprintf("case %d", i))
		assert.False(t, result.Passed)
	}
}
