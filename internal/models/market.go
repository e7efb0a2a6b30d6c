package models

import "time"

// Market is one catalog entry for a condition. The catalog is maintained by
// the market ingester; the engine only reads it, for category labels and
// resolution payouts.
type Market struct {
	ConditionID      string     `json:"conditionId"`
	Question         string     `json:"question"`
	Category         string     `json:"category"`
	Resolved         bool       `json:"resolved"`
	PayoutNumerators []float64  `json:"payoutNumerators"` // Per-outcome settlement value; empty until resolution
	CloseTime        *time.Time `json:"closeTime,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}

// PayoutFor returns the settlement value per token for an outcome slot.
// Unresolved markets and out-of-range slots pay nothing.
func (m *Market) PayoutFor(outcome int) float64 {
	if !m.Resolved || outcome < 0 || outcome >= len(m.PayoutNumerators) {
		return 0
	}
	return m.PayoutNumerators[outcome]
}

// OutcomePrice is the latest known market price pair for one outcome token.
// CurrentPrice values open holdings; ClosePrice is the final traded price
// before resolution and anchors closing line value.
type OutcomePrice struct {
	ConditionID  string    `json:"conditionId"`
	Outcome      int       `json:"outcome"`
	CurrentPrice *float64  `json:"currentPrice,omitempty"`
	ClosePrice   *float64  `json:"closePrice,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
