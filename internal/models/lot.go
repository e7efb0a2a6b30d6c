package models

import (
	"time"

	"github.com/pnl-engine/internal/types"
)

// Lot is the unit of FIFO matching: one buy fill's quantity and cost,
// annotated with how much of it was disposed of before resolution and the
// proportional share of disposal proceeds attributed to it.
//
// Lots for a position are recomputed atomically as a set. MatchVersion ties
// every lot of one matching pass together so a replace-then-publish write can
// swap the whole set without readers ever seeing a partial mix.
type Lot struct {
	Wallet      string `json:"wallet"`
	ConditionID string `json:"conditionId"`
	Outcome     int    `json:"outcome"`
	FillID      string `json:"fillId"` // Source buy fill

	EntryTime     time.Time `json:"entryTime"`
	Tokens        float64   `json:"tokens"`        // Tokens acquired by the source fill
	CostUSD       float64   `json:"costUsd"`       // Cash paid for the source fill
	AvgEntryPrice float64   `json:"avgEntryPrice"` // CostUSD / Tokens

	TokensSoldEarly float64 `json:"tokensSoldEarly"` // Portion matched against disposals
	TokensHeld      float64 `json:"tokensHeld"`      // Portion held to closure/resolution
	ExitValue       float64 `json:"exitValue"`       // Proportional share of disposal proceeds
	RealizedPnL     float64 `json:"realizedPnl"`     // ExitValue - cost of the sold-early portion

	Status       types.PositionStatus `json:"status"`
	MatchVersion int64                `json:"matchVersion"`
}

// Key returns the position this lot belongs to
func (l *Lot) Key() PositionKey {
	return PositionKey{Wallet: l.Wallet, ConditionID: l.ConditionID, Outcome: l.Outcome}
}

// SoldCost returns the entry cost attributed to the sold-early portion
func (l *Lot) SoldCost() float64 {
	return l.AvgEntryPrice * l.TokensSoldEarly
}

// HeldCost returns the entry cost attributed to the held portion
func (l *Lot) HeldCost() float64 {
	return l.AvgEntryPrice * l.TokensHeld
}
