package storage

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// metricColumns whitelists the sortable metric columns for leaderboard
// queries. Anything not in this map never reaches the SQL string.
var metricColumns = map[string]string{
	"realized_pnl":     "realized_pnl",
	"net_pnl":          "net_pnl",
	"roi_pct":          "roi_pct",
	"win_rate_pct":     "win_rate_pct",
	"profit_factor":    "profit_factor",
	"sharpe_ratio":     "sharpe_ratio",
	"sortino_ratio":    "sortino_ratio",
	"calmar_ratio":     "calmar_ratio",
	"omega_ratio":      "omega_ratio",
	"max_drawdown_pct": "max_drawdown_pct",
	"kelly_pct":        "kelly_pct",
	"brier_score":      "brier_score",
	"log_score":        "log_score",
	"clv_bps":          "clv_bps",
	"expectancy_usd":   "expectancy_usd",
	"total_volume_usd": "total_volume_usd",
}

// MetricColumn resolves a metric name to its column, rejecting unknown names
func MetricColumn(metric string) (string, bool) {
	col, ok := metricColumns[metric]
	return col, ok
}

const metricsColumnList = `
	wallet, time_window, category,
	realized_pnl, unrealized_pnl, net_pnl, roi_pct,
	capital_deployed, total_volume_usd, avg_trade_size_usd, largest_win_usd, largest_loss_usd,
	closed_positions, resolved_positions, open_positions, winning_positions, losing_positions,
	win_rate_pct, profit_factor, avg_win_usd, avg_loss_usd, expectancy_usd,
	sharpe_ratio, sortino_ratio, calmar_ratio, omega_ratio,
	max_drawdown_pct, max_drawdown_days, volatility_pct, return_periods,
	kelly_pct, brier_score, log_score, calibrated_over, clv_bps, clv_samples,
	avg_hold_hours, trades_per_day, maker_pct, early_exit_rate_pct,
	max_consecutive_wins, max_consecutive_losses,
	oversold_positions, validation_flags, computed_at, match_version`

// MetricsRepository handles wallet metrics persistence in ClickHouse.
// Like lots, wallet_metrics is a ReplacingMergeTree versioned by
// match_version; readers pin to the published version.
type MetricsRepository struct {
	db *ClickHouseDB
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(db *ClickHouseDB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// BatchInsert inserts metrics rows in a batch
func (r *MetricsRepository) BatchInsert(ctx context.Context, rows []*models.WalletMetricsRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO wallet_metrics (`+metricsColumnList+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		flags := row.ValidationFlags
		if flags == nil {
			flags = []string{}
		}

		err = batch.Append(
			NormalizeWallet(row.Wallet),
			string(row.Window),
			row.Category,
			row.RealizedPnL,
			row.UnrealizedPnL,
			row.NetPnL,
			row.ROIPct,
			row.CapitalDeployed,
			row.TotalVolumeUSD,
			row.AvgTradeSizeUSD,
			row.LargestWinUSD,
			row.LargestLossUSD,
			int32(row.ClosedPositions),
			int32(row.ResolvedPositions),
			int32(row.OpenPositions),
			int32(row.WinningPositions),
			int32(row.LosingPositions),
			row.WinRatePct,
			row.ProfitFactor,
			row.AvgWinUSD,
			row.AvgLossUSD,
			row.ExpectancyUSD,
			row.SharpeRatio,
			row.SortinoRatio,
			row.CalmarRatio,
			row.OmegaRatio,
			row.MaxDrawdownPct,
			intPtrToInt32(row.MaxDrawdownDays),
			row.VolatilityPct,
			int32(row.ReturnPeriods),
			row.KellyPct,
			row.BrierScore,
			row.LogScore,
			int32(row.CalibratedOver),
			row.CLVBps,
			int32(row.CLVSamples),
			row.AvgHoldHours,
			row.TradesPerDay,
			row.MakerPct,
			row.EarlyExitRatePct,
			int32(row.MaxConsecutiveWins),
			int32(row.MaxConsecutiveLosses),
			int32(row.OversoldPositions),
			flags,
			row.ComputedAt,
			row.MatchVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to append metrics row for %s to batch: %w", row.Wallet, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// Get returns one metrics cell at one match version
func (r *MetricsRepository) Get(ctx context.Context, key models.MetricsKey, matchVersion int64) (*models.WalletMetricsRow, error) {
	query := `SELECT ` + metricsColumnList + `
		FROM wallet_metrics FINAL
		WHERE wallet = ? AND time_window = ? AND category = ? AND match_version = ?
		LIMIT 1`

	rows, err := r.queryRows(ctx, query, NormalizeWallet(key.Wallet), string(key.Window), key.Category, matchVersion)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetWalletRows returns every cell for a wallet at one match version
func (r *MetricsRepository) GetWalletRows(ctx context.Context, wallet string, matchVersion int64) ([]*models.WalletMetricsRow, error) {
	query := `SELECT ` + metricsColumnList + `
		FROM wallet_metrics FINAL
		WHERE wallet = ? AND match_version = ?
		ORDER BY time_window, category`
	return r.queryRows(ctx, query, NormalizeWallet(wallet), matchVersion)
}

// TopByMetric returns the ranked rows for one leaderboard view. Rows with a
// null ranking metric or too few closed positions never rank. Ties break on
// volume descending, then wallet ascending for a stable order.
func (r *MetricsRepository) TopByMetric(ctx context.Context, metric string, window types.TimeWindow, category string, matchVersion int64, minClosed, limit int, ascending bool) ([]*models.WalletMetricsRow, error) {
	col, ok := MetricColumn(metric)
	if !ok {
		return nil, fmt.Errorf("unknown leaderboard metric: %s", metric)
	}

	direction := "DESC"
	if ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT `+metricsColumnList+`
		FROM wallet_metrics FINAL
		WHERE time_window = ? AND category = ? AND match_version = ?
		  AND closed_positions >= ? AND %s IS NOT NULL
		ORDER BY %s %s, total_volume_usd DESC, wallet ASC
		LIMIT ?`, col, col, direction)

	return r.queryRows(ctx, query, string(window), category, matchVersion, int32(minClosed), limit)
}

// MetricValues returns the non-null values of one metric over the eligible
// population, sorted ascending. The leaderboard uses this for percentile
// bucketing.
func (r *MetricsRepository) MetricValues(ctx context.Context, metric string, window types.TimeWindow, category string, matchVersion int64, minClosed int) ([]float64, error) {
	col, ok := MetricColumn(metric)
	if !ok {
		return nil, fmt.Errorf("unknown leaderboard metric: %s", metric)
	}

	query := fmt.Sprintf(`SELECT %s
		FROM wallet_metrics FINAL
		WHERE time_window = ? AND category = ? AND match_version = ?
		  AND closed_positions >= ? AND %s IS NOT NULL
		ORDER BY %s ASC`, col, col, col)

	rows, err := r.db.Conn().Query(ctx, query, string(window), category, matchVersion, int32(minClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to query metric values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v *float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		if v != nil {
			values = append(values, *v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metric values: %w", err)
	}

	return values, nil
}

// SumLifetimeRealized sums realized P&L over the lifetime/all cells at one
// match version. This is the aggregate side of the parity gate.
func (r *MetricsRepository) SumLifetimeRealized(ctx context.Context, matchVersion int64) (float64, error) {
	var sum float64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT sum(realized_pnl) FROM wallet_metrics FINAL
		 WHERE time_window = ? AND category = ? AND match_version = ?`,
		string(types.WindowLifetime), types.CategoryAll, matchVersion,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return sum, nil
}

// PruneBefore drops metrics rows from superseded match versions
func (r *MetricsRepository) PruneBefore(ctx context.Context, matchVersion int64) error {
	err := r.db.Exec(ctx,
		`ALTER TABLE wallet_metrics DELETE WHERE match_version < ?`,
		matchVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to prune metrics: %w", err)
	}
	return nil
}

func (r *MetricsRepository) queryRows(ctx context.Context, query string, args ...interface{}) ([]*models.WalletMetricsRow, error) {
	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var result []*models.WalletMetricsRow
	for rows.Next() {
		var row models.WalletMetricsRow
		var window, category string
		var closed, resolved, open, winning, losing int32
		var returnPeriods, calibratedOver, clvSamples int32
		var maxWins, maxLosses, oversold int32
		var ddDays *int32

		if err := rows.Scan(
			&row.Wallet, &window, &category,
			&row.RealizedPnL, &row.UnrealizedPnL, &row.NetPnL, &row.ROIPct,
			&row.CapitalDeployed, &row.TotalVolumeUSD, &row.AvgTradeSizeUSD, &row.LargestWinUSD, &row.LargestLossUSD,
			&closed, &resolved, &open, &winning, &losing,
			&row.WinRatePct, &row.ProfitFactor, &row.AvgWinUSD, &row.AvgLossUSD, &row.ExpectancyUSD,
			&row.SharpeRatio, &row.SortinoRatio, &row.CalmarRatio, &row.OmegaRatio,
			&row.MaxDrawdownPct, &ddDays, &row.VolatilityPct, &returnPeriods,
			&row.KellyPct, &row.BrierScore, &row.LogScore, &calibratedOver, &row.CLVBps, &clvSamples,
			&row.AvgHoldHours, &row.TradesPerDay, &row.MakerPct, &row.EarlyExitRatePct,
			&maxWins, &maxLosses,
			&oversold, &row.ValidationFlags, &row.ComputedAt, &row.MatchVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}

		row.Window = types.TimeWindow(window)
		row.Category = category
		row.ClosedPositions = int(closed)
		row.ResolvedPositions = int(resolved)
		row.OpenPositions = int(open)
		row.WinningPositions = int(winning)
		row.LosingPositions = int(losing)
		row.ReturnPeriods = int(returnPeriods)
		row.CalibratedOver = int(calibratedOver)
		row.CLVSamples = int(clvSamples)
		row.MaxConsecutiveWins = int(maxWins)
		row.MaxConsecutiveLosses = int(maxLosses)
		row.OversoldPositions = int(oversold)
		row.MaxDrawdownDays = int32PtrToInt(ddDays)

		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics rows: %w", err)
	}

	return result, nil
}

func intPtrToInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v) // #nosec G115 - drawdown durations fit comfortably in int32
	return &n
}

func int32PtrToInt(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
