package storage

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
)

// MarketRepository handles the market catalog in Postgres
type MarketRepository struct {
	db *PostgresDB
}

// NewMarketRepository creates a new market repository
func NewMarketRepository(db *PostgresDB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Upsert writes a market catalog entry, replacing any previous row for the
// condition. Resolution fields only ever move forward; the ingester never
// un-resolves a market.
func (r *MarketRepository) Upsert(ctx context.Context, m *models.Market) error {
	query := `
		INSERT INTO markets (condition_id, question, category, resolved, payout_numerators, close_time, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (condition_id) DO UPDATE
		SET question = EXCLUDED.question,
		    category = EXCLUDED.category,
		    resolved = EXCLUDED.resolved,
		    payout_numerators = EXCLUDED.payout_numerators,
		    close_time = EXCLUDED.close_time,
		    resolved_at = EXCLUDED.resolved_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		m.ConditionID, m.Question, m.Category, m.Resolved, m.PayoutNumerators, m.CloseTime, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert market: %w", err)
	}

	return nil
}

// GetAll returns the full market catalog. The engine loads it once per run;
// the catalog is small relative to the fill stream.
func (r *MarketRepository) GetAll(ctx context.Context) ([]*models.Market, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT condition_id, question, category, resolved, payout_numerators, close_time, resolved_at
		FROM markets
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []*models.Market
	for rows.Next() {
		var m models.Market
		if err := rows.Scan(
			&m.ConditionID, &m.Question, &m.Category, &m.Resolved,
			&m.PayoutNumerators, &m.CloseTime, &m.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate markets: %w", err)
	}

	return markets, nil
}

// GetByCondition returns one market, or nil when the condition is unknown
func (r *MarketRepository) GetByCondition(ctx context.Context, conditionID string) (*models.Market, error) {
	var m models.Market
	err := r.db.Pool().QueryRow(ctx, `
		SELECT condition_id, question, category, resolved, payout_numerators, close_time, resolved_at
		FROM markets
		WHERE condition_id = $1
	`, conditionID).Scan(
		&m.ConditionID, &m.Question, &m.Category, &m.Resolved,
		&m.PayoutNumerators, &m.CloseTime, &m.ResolvedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return &m, nil
}
