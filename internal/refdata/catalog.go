// Package refdata provides the per-run reference data snapshots: the market
// catalog (categories and resolution payouts) and the price book. Both are
// loaded once at the start of a run and shared read-only across workers, so
// every wallet in a run sees the same resolution and price state.
package refdata

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// MarketSource is the catalog loader dependency, satisfied by the Postgres
// market repository.
type MarketSource interface {
	GetAll(ctx context.Context) ([]*models.Market, error)
}

// Catalog is an immutable in-memory view of the market catalog
type Catalog struct {
	markets map[string]*models.Market
}

// LoadCatalog loads the full market catalog into memory
func LoadCatalog(ctx context.Context, source MarketSource) (*Catalog, error) {
	markets, err := source.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load market catalog: %w", err)
	}
	return NewCatalog(markets), nil
}

// NewCatalog builds a catalog from market rows
func NewCatalog(markets []*models.Market) *Catalog {
	byCondition := make(map[string]*models.Market, len(markets))
	for _, m := range markets {
		byCondition[m.ConditionID] = m
	}
	return &Catalog{markets: byCondition}
}

// Market returns the catalog entry for a condition, or nil when unknown
func (c *Catalog) Market(conditionID string) *models.Market {
	return c.markets[conditionID]
}

// Resolution returns whether a market has resolved and the settlement value
// per token for the outcome slot. Conditions missing from the catalog are
// treated as unresolved: the position stays open rather than settling on a
// guess.
func (c *Catalog) Resolution(conditionID string, outcome int) (resolved bool, payoutPerUnit float64) {
	m := c.markets[conditionID]
	if m == nil || !m.Resolved {
		return false, 0
	}
	return true, m.PayoutFor(outcome)
}

// Category returns the market's category label, or the all-markets
// pseudo-category for conditions missing from the catalog.
func (c *Catalog) Category(conditionID string) string {
	m := c.markets[conditionID]
	if m == nil || m.Category == "" {
		return types.CategoryAll
	}
	return m.Category
}

// Categories returns the distinct category labels present in the catalog
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var categories []string
	for _, m := range c.markets {
		if m.Category == "" || seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		categories = append(categories, m.Category)
	}
	return categories
}

// Len returns the number of catalog entries
func (c *Catalog) Len() int {
	return len(c.markets)
}
