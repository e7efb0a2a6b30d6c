package refdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

func TestCatalogResolution(t *testing.T) {
	resolvedAt := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	catalog := NewCatalog([]*models.Market{
		{
			ConditionID:      "0xaaa",
			Category:         "politics",
			Resolved:         true,
			PayoutNumerators: []float64{1, 0},
			ResolvedAt:       &resolvedAt,
		},
		{
			ConditionID: "0xbbb",
			Category:    "sports",
		},
	})

	resolved, payout := catalog.Resolution("0xaaa", 0)
	assert.True(t, resolved)
	assert.Equal(t, 1.0, payout)

	resolved, payout = catalog.Resolution("0xaaa", 1)
	assert.True(t, resolved)
	assert.Zero(t, payout)

	// Out-of-range outcome slot pays nothing
	_, payout = catalog.Resolution("0xaaa", 2)
	assert.Zero(t, payout)

	resolved, _ = catalog.Resolution("0xbbb", 0)
	assert.False(t, resolved)

	// Unknown conditions stay unresolved rather than settling on a guess
	resolved, _ = catalog.Resolution("0xmissing", 0)
	assert.False(t, resolved)
}

func TestCatalogCategory(t *testing.T) {
	catalog := NewCatalog([]*models.Market{
		{ConditionID: "0xaaa", Category: "politics"},
		{ConditionID: "0xbbb"},
	})

	assert.Equal(t, "politics", catalog.Category("0xaaa"))
	assert.Equal(t, types.CategoryAll, catalog.Category("0xbbb"))
	assert.Equal(t, types.CategoryAll, catalog.Category("0xmissing"))
	assert.Equal(t, []string{"politics"}, catalog.Categories())
}

func TestPriceBookLookup(t *testing.T) {
	current := 0.62
	closing := 0.91
	book := NewPriceBook([]*models.OutcomePrice{
		{ConditionID: "0xaaa", Outcome: 0, CurrentPrice: &current},
		{ConditionID: "0xaaa", Outcome: 1, ClosePrice: &closing},
	})

	price, ok := book.CurrentPrice("0xaaa", 0)
	assert.True(t, ok)
	assert.Equal(t, 0.62, price)

	// A row without a current price is a miss, not a zero
	_, ok = book.CurrentPrice("0xaaa", 1)
	assert.False(t, ok)

	price, ok = book.ClosePrice("0xaaa", 1)
	assert.True(t, ok)
	assert.Equal(t, 0.91, price)

	_, ok = book.ClosePrice("0xmissing", 0)
	assert.False(t, ok)
}
