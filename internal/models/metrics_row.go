package models

import (
	"time"

	"github.com/pnl-engine/internal/types"
)

// WalletMetricsRow is one (wallet, time_window, category) output tuple.
// Each aggregation run fully replaces the row for its key; consumers must
// read nil metrics as "insufficient data", never as zero.
type WalletMetricsRow struct {
	Wallet   string           `json:"wallet"`
	Window   types.TimeWindow `json:"window"`
	Category string           `json:"category"`

	// P&L
	RealizedPnL   float64  `json:"realizedPnl"`
	UnrealizedPnL *float64 `json:"unrealizedPnl"` // nil when no current price is available
	NetPnL        *float64 `json:"netPnl"`
	ROIPct        *float64 `json:"roiPct"` // nil when no capital was deployed

	// Volume and exposure
	CapitalDeployed float64 `json:"capitalDeployed"`
	TotalVolumeUSD  float64 `json:"totalVolumeUsd"`
	AvgTradeSizeUSD *float64 `json:"avgTradeSizeUsd"`
	LargestWinUSD   *float64 `json:"largestWinUsd"`
	LargestLossUSD  *float64 `json:"largestLossUsd"`

	// Trade outcome stats
	ClosedPositions   int      `json:"closedPositions"`
	ResolvedPositions int      `json:"resolvedPositions"`
	OpenPositions     int      `json:"openPositions"`
	WinningPositions  int      `json:"winningPositions"`
	LosingPositions   int      `json:"losingPositions"`
	WinRatePct        *float64 `json:"winRatePct"`
	ProfitFactor      *float64 `json:"profitFactor"` // Capped at the display sentinel when losses are zero
	AvgWinUSD         *float64 `json:"avgWinUsd"`
	AvgLossUSD        *float64 `json:"avgLossUsd"`
	ExpectancyUSD     *float64 `json:"expectancyUsd"`

	// Risk-adjusted ratios over the daily return series
	SharpeRatio    *float64 `json:"sharpeRatio"`
	SortinoRatio   *float64 `json:"sortinoRatio"`
	CalmarRatio    *float64 `json:"calmarRatio"`
	OmegaRatio     *float64 `json:"omegaRatio"`
	MaxDrawdownPct *float64 `json:"maxDrawdownPct"`
	MaxDrawdownDays *int    `json:"maxDrawdownDays"`
	VolatilityPct  *float64 `json:"volatilityPct"`
	ReturnPeriods  int      `json:"returnPeriods"`

	// Sizing
	KellyPct *float64 `json:"kellyPct"` // Negative is valid and means "do not bet"

	// Calibration, over resolved positions with a recorded entry probability
	BrierScore     *float64 `json:"brierScore"`
	LogScore       *float64 `json:"logScore"`
	CalibratedOver int      `json:"calibratedOver"`

	// Closing line value
	CLVBps     *float64 `json:"clvBps"`
	CLVSamples int      `json:"clvSamples"`

	// Behavioral
	AvgHoldHours     *float64 `json:"avgHoldHours"`
	TradesPerDay     *float64 `json:"tradesPerDay"`
	MakerPct         *float64 `json:"makerPct"`
	EarlyExitRatePct *float64 `json:"earlyExitRatePct"` // Share of bought tokens sold before resolution
	MaxConsecutiveWins   int  `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int  `json:"maxConsecutiveLosses"`

	// Data quality
	OversoldPositions int      `json:"oversoldPositions"` // Positions excluded for disposed > bought
	ValidationFlags   []string `json:"validationFlags,omitempty"`

	ComputedAt   time.Time `json:"computedAt"`
	MatchVersion int64     `json:"matchVersion"`
}

// MetricsKey identifies one output cell
type MetricsKey struct {
	Wallet   string
	Window   types.TimeWindow
	Category string
}

// Key returns the cell key for this row
func (r *WalletMetricsRow) Key() MetricsKey {
	return MetricsKey{Wallet: r.Wallet, Window: r.Window, Category: r.Category}
}
