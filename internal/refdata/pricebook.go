package refdata

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
)

// PriceSource is the price loader dependency, satisfied by the ClickHouse
// price repository.
type PriceSource interface {
	GetAll(ctx context.Context) ([]*models.OutcomePrice, error)
}

type priceKey struct {
	conditionID string
	outcome     int
}

// PriceBook is an immutable in-memory snapshot of outcome prices. It
// implements the metrics calculator's price interface: a missing price is a
// missing price, never a zero.
type PriceBook struct {
	current map[priceKey]float64
	close_  map[priceKey]float64
}

// LoadPriceBook loads the latest price per outcome token into memory
func LoadPriceBook(ctx context.Context, source PriceSource) (*PriceBook, error) {
	prices, err := source.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load price book: %w", err)
	}
	return NewPriceBook(prices), nil
}

// NewPriceBook builds a price book from price rows
func NewPriceBook(prices []*models.OutcomePrice) *PriceBook {
	book := &PriceBook{
		current: make(map[priceKey]float64, len(prices)),
		close_:  make(map[priceKey]float64, len(prices)),
	}
	for _, p := range prices {
		key := priceKey{conditionID: p.ConditionID, outcome: p.Outcome}
		if p.CurrentPrice != nil {
			book.current[key] = *p.CurrentPrice
		}
		if p.ClosePrice != nil {
			book.close_[key] = *p.ClosePrice
		}
	}
	return book
}

// CurrentPrice returns the latest traded price for an outcome token
func (b *PriceBook) CurrentPrice(conditionID string, outcome int) (float64, bool) {
	v, ok := b.current[priceKey{conditionID: conditionID, outcome: outcome}]
	return v, ok
}

// ClosePrice returns the final pre-resolution price for an outcome token
func (b *PriceBook) ClosePrice(conditionID string, outcome int) (float64, bool) {
	v, ok := b.close_[priceKey{conditionID: conditionID, outcome: outcome}]
	return v, ok
}

// Len returns the number of outcome tokens with at least one price
func (b *PriceBook) Len() int {
	if len(b.current) > len(b.close_) {
		return len(b.current)
	}
	return len(b.close_)
}
