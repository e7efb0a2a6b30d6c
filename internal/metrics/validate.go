package metrics

import (
	"fmt"
	"math"

	"github.com/pnl-engine/internal/models"
)

// metricRange declares the plausible interval for one metric
type metricRange struct {
	min float64
	max float64
}

// plausibleRanges guards every bounded metric. A value outside its range is
// nulled and flagged rather than persisted as garbage.
var plausibleRanges = map[string]metricRange{
	"win_rate_pct":        {0, 100},
	"maker_pct":           {0, 100},
	"early_exit_rate_pct": {0, 100},
	"profit_factor":       {0, UnboundedSentinel},
	"omega_ratio":         {0, UnboundedSentinel},
	"brier_score":         {0, 1},
	"log_score":           {0, math.MaxFloat64},
	"max_drawdown_pct":    {0, 100},
}

// Validate nulls out-of-range and non-finite metrics in place, recording a
// flag for each so the run summary can report them.
func Validate(row *models.WalletMetricsRow) {
	checkRange(row, "win_rate_pct", &row.WinRatePct)
	checkRange(row, "maker_pct", &row.MakerPct)
	checkRange(row, "early_exit_rate_pct", &row.EarlyExitRatePct)
	checkRange(row, "profit_factor", &row.ProfitFactor)
	checkRange(row, "omega_ratio", &row.OmegaRatio)
	checkRange(row, "brier_score", &row.BrierScore)
	checkRange(row, "log_score", &row.LogScore)
	checkRange(row, "max_drawdown_pct", &row.MaxDrawdownPct)

	// Unbounded metrics still have to be finite
	checkFinite(row, "roi_pct", &row.ROIPct)
	checkFinite(row, "unrealized_pnl", &row.UnrealizedPnL)
	checkFinite(row, "net_pnl", &row.NetPnL)
	checkFinite(row, "sharpe_ratio", &row.SharpeRatio)
	checkFinite(row, "sortino_ratio", &row.SortinoRatio)
	checkFinite(row, "calmar_ratio", &row.CalmarRatio)
	checkFinite(row, "kelly_pct", &row.KellyPct)
	checkFinite(row, "clv_bps", &row.CLVBps)
	checkFinite(row, "volatility_pct", &row.VolatilityPct)
	checkFinite(row, "avg_hold_hours", &row.AvgHoldHours)
	checkFinite(row, "trades_per_day", &row.TradesPerDay)
	checkFinite(row, "avg_win_usd", &row.AvgWinUSD)
	checkFinite(row, "avg_loss_usd", &row.AvgLossUSD)
	checkFinite(row, "expectancy_usd", &row.ExpectancyUSD)
	checkFinite(row, "avg_trade_size_usd", &row.AvgTradeSizeUSD)
	checkFinite(row, "largest_win_usd", &row.LargestWinUSD)
	checkFinite(row, "largest_loss_usd", &row.LargestLossUSD)
}

func checkRange(row *models.WalletMetricsRow, name string, value **float64) {
	if *value == nil {
		return
	}
	v := **value
	if !isFinite(v) {
		null(row, name, value, "non_finite")
		return
	}
	r, ok := plausibleRanges[name]
	if !ok {
		return
	}
	if v < r.min || v > r.max {
		null(row, name, value, "out_of_range")
	}
}

func checkFinite(row *models.WalletMetricsRow, name string, value **float64) {
	if *value == nil {
		return
	}
	if !isFinite(**value) {
		null(row, name, value, "non_finite")
	}
}

func null(row *models.WalletMetricsRow, name string, value **float64, reason string) {
	*value = nil
	row.ValidationFlags = append(row.ValidationFlags, fmt.Sprintf("%s:%s", name, reason))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
