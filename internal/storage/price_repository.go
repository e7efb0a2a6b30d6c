package storage

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
)

// PriceRepository handles outcome price snapshots in ClickHouse. The price
// feeder replaces rows as prices move; the engine reads one consistent
// snapshot per run.
type PriceRepository struct {
	db *ClickHouseDB
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *ClickHouseDB) *PriceRepository {
	return &PriceRepository{db: db}
}

// BatchInsert inserts price rows in a batch. The table is a
// ReplacingMergeTree on updated_at, so newer rows supersede older ones per
// (condition_id, outcome).
func (r *PriceRepository) BatchInsert(ctx context.Context, prices []*models.OutcomePrice) error {
	if len(prices) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO outcome_prices (condition_id, outcome, current_price, close_price, updated_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range prices {
		err = batch.Append(
			p.ConditionID,
			uint8(p.Outcome),
			p.CurrentPrice,
			p.ClosePrice,
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append price for %s to batch: %w", p.ConditionID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// GetAll returns the latest price row per outcome token
func (r *PriceRepository) GetAll(ctx context.Context) ([]*models.OutcomePrice, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT condition_id, outcome, current_price, close_price, updated_at
		FROM outcome_prices FINAL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []*models.OutcomePrice
	for rows.Next() {
		var p models.OutcomePrice
		var outcome uint8
		if err := rows.Scan(&p.ConditionID, &outcome, &p.CurrentPrice, &p.ClosePrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.Outcome = int(outcome)
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}

	return prices, nil
}
