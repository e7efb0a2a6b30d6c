package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// FillRepository handles fill persistence in ClickHouse. Fills are the
// immutable input stream: the matcher reads them, never writes them.
type FillRepository struct {
	db *ClickHouseDB
}

// NewFillRepository creates a new fill repository
func NewFillRepository(db *ClickHouseDB) *FillRepository {
	return &FillRepository{db: db}
}

// BatchInsert inserts fills in a batch. The fills table is a
// ReplacingMergeTree keyed by (wallet, condition_id, outcome, fill_id), so a
// re-delivered fill replaces its earlier row instead of duplicating it.
func (r *FillRepository) BatchInsert(ctx context.Context, fills []*models.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO fills (
			wallet, condition_id, outcome, fill_id, token_delta, cash_delta, timestamp, is_maker
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, f := range fills {
		if err := ValidateWallet(f.Wallet); err != nil {
			return fmt.Errorf("invalid wallet %s: %w", f.Wallet, err)
		}

		err = batch.Append(
			NormalizeWallet(f.Wallet),
			f.ConditionID,
			uint8(f.Outcome),
			f.FillID,
			f.TokenDelta,
			f.CashDelta,
			f.Timestamp,
			f.IsMaker,
		)
		if err != nil {
			return fmt.Errorf("failed to append fill %s to batch: %w", f.FillID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// GetWalletFills returns every fill for a wallet ordered by position key and
// then execution time, which is the order the matcher consumes them in.
func (r *FillRepository) GetWalletFills(ctx context.Context, wallet string) ([]*models.Fill, error) {
	query := `
		SELECT wallet, condition_id, outcome, fill_id, token_delta, cash_delta, timestamp, is_maker
		FROM fills FINAL
		WHERE wallet = ?
		ORDER BY condition_id, outcome, timestamp, fill_id
	`

	rows, err := r.db.Conn().Query(ctx, query, NormalizeWallet(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []*models.Fill
	for rows.Next() {
		var f models.Fill
		var outcome uint8
		if err := rows.Scan(
			&f.Wallet, &f.ConditionID, &outcome, &f.FillID,
			&f.TokenDelta, &f.CashDelta, &f.Timestamp, &f.IsMaker,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Outcome = int(outcome)
		fills = append(fills, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fills: %w", err)
	}

	return fills, nil
}

// WalletFilter selects the wallet universe for one aggregation run
type WalletFilter struct {
	Kind        types.WalletFilterKind
	ActiveSince time.Time // Required for WalletFilterActive
	Wallets     []string  // Required for WalletFilterExplicit
}

// ListWallets returns the distinct wallets selected by the filter, sorted
// ascending so runs walk the universe in a stable order.
func (r *FillRepository) ListWallets(ctx context.Context, filter WalletFilter) ([]string, error) {
	var query string
	var args []interface{}

	switch filter.Kind {
	case types.WalletFilterActive:
		query = `SELECT DISTINCT wallet FROM fills WHERE timestamp >= ? ORDER BY wallet`
		args = append(args, filter.ActiveSince)
	case types.WalletFilterExplicit:
		normalized := make([]string, len(filter.Wallets))
		for i, w := range filter.Wallets {
			if err := ValidateWallet(w); err != nil {
				return nil, err
			}
			normalized[i] = NormalizeWallet(w)
		}
		query = `SELECT DISTINCT wallet FROM fills WHERE wallet IN (?) ORDER BY wallet`
		args = append(args, normalized)
	default:
		query = `SELECT DISTINCT wallet FROM fills ORDER BY wallet`
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallets: %w", err)
	}

	return wallets, nil
}

// CountFills returns the total fill count for a wallet
func (r *FillRepository) CountFills(ctx context.Context, wallet string) (uint64, error) {
	var count uint64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT count() FROM fills FINAL WHERE wallet = ?`,
		NormalizeWallet(wallet),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fills: %w", err)
	}
	return count, nil
}
