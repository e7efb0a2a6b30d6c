package storage

import (
	"context"
	"fmt"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// LotRepository handles matched-lot persistence in ClickHouse.
//
// The lots table is a ReplacingMergeTree versioned by match_version. A run
// inserts its full lot set under the run's match_version and readers pin
// their queries to the published version, so a half-written run is invisible
// until the run registry promotes it.
type LotRepository struct {
	db *ClickHouseDB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *ClickHouseDB) *LotRepository {
	return &LotRepository{db: db}
}

// BatchInsert inserts lots in a batch. Callers stamp every lot with the
// run's match_version before handing it over.
func (r *LotRepository) BatchInsert(ctx context.Context, lots []*models.Lot) error {
	if len(lots) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO lots (
			wallet, condition_id, outcome, fill_id, entry_time,
			tokens, cost_usd, avg_entry_price,
			tokens_sold_early, tokens_held, exit_value, realized_pnl,
			status, match_version
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, lot := range lots {
		err = batch.Append(
			NormalizeWallet(lot.Wallet),
			lot.ConditionID,
			uint8(lot.Outcome),
			lot.FillID,
			lot.EntryTime,
			lot.Tokens,
			lot.CostUSD,
			lot.AvgEntryPrice,
			lot.TokensSoldEarly,
			lot.TokensHeld,
			lot.ExitValue,
			lot.RealizedPnL,
			string(lot.Status),
			lot.MatchVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to append lot %s to batch: %w", lot.FillID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// GetWalletLots returns every lot for a wallet at one match version, ordered
// by position key and entry time.
func (r *LotRepository) GetWalletLots(ctx context.Context, wallet string, matchVersion int64) ([]*models.Lot, error) {
	query := `
		SELECT wallet, condition_id, outcome, fill_id, entry_time,
		       tokens, cost_usd, avg_entry_price,
		       tokens_sold_early, tokens_held, exit_value, realized_pnl,
		       status, match_version
		FROM lots FINAL
		WHERE wallet = ? AND match_version = ?
		ORDER BY condition_id, outcome, entry_time, fill_id
	`
	return r.queryLots(ctx, query, NormalizeWallet(wallet), matchVersion)
}

// GetPositionLots returns the lot set for one position at one match version
func (r *LotRepository) GetPositionLots(ctx context.Context, key models.PositionKey, matchVersion int64) ([]*models.Lot, error) {
	query := `
		SELECT wallet, condition_id, outcome, fill_id, entry_time,
		       tokens, cost_usd, avg_entry_price,
		       tokens_sold_early, tokens_held, exit_value, realized_pnl,
		       status, match_version
		FROM lots FINAL
		WHERE wallet = ? AND condition_id = ? AND outcome = ? AND match_version = ?
		ORDER BY entry_time, fill_id
	`
	return r.queryLots(ctx, query, NormalizeWallet(key.Wallet), key.ConditionID, uint8(key.Outcome), matchVersion)
}

// SumRealizedPnL sums lot-level realized P&L across the whole store at one
// match version. This is the ground truth side of the parity gate.
func (r *LotRepository) SumRealizedPnL(ctx context.Context, matchVersion int64) (float64, error) {
	var sum float64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT sum(realized_pnl) FROM lots FINAL WHERE match_version = ?`,
		matchVersion,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum lot pnl: %w", err)
	}
	return sum, nil
}

// PruneBefore drops lot rows from superseded match versions. Runs call this
// after publishing so the table does not accumulate one full copy per run.
func (r *LotRepository) PruneBefore(ctx context.Context, matchVersion int64) error {
	err := r.db.Exec(ctx,
		`ALTER TABLE lots DELETE WHERE match_version < ?`,
		matchVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to prune lots: %w", err)
	}
	return nil
}

func (r *LotRepository) queryLots(ctx context.Context, query string, args ...interface{}) ([]*models.Lot, error) {
	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		var lot models.Lot
		var outcome uint8
		var status string
		if err := rows.Scan(
			&lot.Wallet, &lot.ConditionID, &outcome, &lot.FillID, &lot.EntryTime,
			&lot.Tokens, &lot.CostUSD, &lot.AvgEntryPrice,
			&lot.TokensSoldEarly, &lot.TokensHeld, &lot.ExitValue, &lot.RealizedPnL,
			&status, &lot.MatchVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lot.Outcome = int(outcome)
		lot.Status = types.PositionStatus(status)
		lots = append(lots, &lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lots: %w", err)
	}

	return lots, nil
}
