package models

import (
	"time"

	"github.com/pnl-engine/internal/types"
)

// AggregationRun records one batch recompute over a wallet universe.
// The run registry lives in Postgres; a run is only promoted for consumption
// after its parity gate passes.
type AggregationRun struct {
	RunID        string                 `json:"runId"`
	Status       types.RunStatus        `json:"status"`
	FilterKind   types.WalletFilterKind `json:"filterKind"`
	ActiveSince  *time.Time             `json:"activeSince,omitempty"` // For the "active" filter
	Concurrency  int                    `json:"concurrency"`
	MatchVersion int64                  `json:"matchVersion"` // Version stamped on every lot/metrics row of this run

	WalletsTotal     int `json:"walletsTotal"`
	WalletsProcessed int `json:"walletsProcessed"`
	WalletsFailed    int `json:"walletsFailed"`

	ParityChecked  bool     `json:"parityChecked"`
	ParityPassed   bool     `json:"parityPassed"`
	ParityAggregate float64 `json:"parityAggregate"` // Σ realized P&L over lifetime/all rows
	ParityGround    float64 `json:"parityGround"`    // Σ lot P&L straight from the lot store

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// FailedUnit records one wallet that could not be processed, with enough
// context to reproduce the failure.
type FailedUnit struct {
	RunID    string    `json:"runId"`
	Wallet   string    `json:"wallet"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}
