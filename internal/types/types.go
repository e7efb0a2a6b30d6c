// Package types provides common type definitions for the wallet P&L engine.
package types

import "time"

// PositionStatus represents the lifecycle state of a (wallet, market, outcome) position
type PositionStatus string

const (
	// PositionOpen represents a position with remaining tokens and no market resolution
	PositionOpen PositionStatus = "open"
	// PositionClosed represents a position whose net holding is within tolerance of zero
	PositionClosed PositionStatus = "closed"
	// PositionResolved represents a position held through market resolution
	PositionResolved PositionStatus = "resolved"
)

// TimeWindow represents a metric aggregation window
type TimeWindow string

const (
	// Window30d covers the trailing 30 days
	Window30d TimeWindow = "30d"
	// Window90d covers the trailing 90 days
	Window90d TimeWindow = "90d"
	// Window180d covers the trailing 180 days
	Window180d TimeWindow = "180d"
	// WindowLifetime covers the wallet's full history
	WindowLifetime TimeWindow = "lifetime"
)

// AllWindows lists every aggregation window in computation order
var AllWindows = []TimeWindow{Window30d, Window90d, Window180d, WindowLifetime}

// Duration returns the lookback for a window, or 0 for lifetime
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case Window30d:
		return 30 * 24 * time.Hour
	case Window90d:
		return 90 * 24 * time.Hour
	case Window180d:
		return 180 * 24 * time.Hour
	default:
		return 0
	}
}

// CutoffFrom returns the earliest entry timestamp included in the window,
// relative to the given reference time. Lifetime has no cutoff.
func (w TimeWindow) CutoffFrom(ref time.Time) (time.Time, bool) {
	d := w.Duration()
	if d == 0 {
		return time.Time{}, false
	}
	return ref.Add(-d), true
}

// CategoryAll is the pseudo-category covering every market
const CategoryAll = "all"

// FillSide represents whether a fill acquired or disposed of tokens
type FillSide string

const (
	// SideBuy represents a token acquisition
	SideBuy FillSide = "buy"
	// SideSell represents a token disposal
	SideSell FillSide = "sell"
)

// RunStatus represents the state of an aggregation run
type RunStatus string

const (
	// RunStatusRunning represents a run in progress
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted represents a run that passed its parity gate and was published
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed represents a run that aborted or failed its parity gate
	RunStatusFailed RunStatus = "failed"
)

// WalletFilterKind selects which wallets a run processes
type WalletFilterKind string

const (
	// WalletFilterAll processes every wallet with at least one fill
	WalletFilterAll WalletFilterKind = "all"
	// WalletFilterActive processes wallets with a fill after a cutoff
	WalletFilterActive WalletFilterKind = "active"
	// WalletFilterExplicit processes an explicit wallet list
	WalletFilterExplicit WalletFilterKind = "explicit"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
