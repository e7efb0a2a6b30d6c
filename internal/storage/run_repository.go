package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/types"
)

// RunRepository handles the aggregation run registry in Postgres. The
// registry is the source of truth for which match_version readers may see:
// a run's rows in ClickHouse stay invisible until Publish promotes it.
type RunRepository struct {
	db *PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun registers a new run in the running state
func (r *RunRepository) CreateRun(ctx context.Context, run *models.AggregationRun) error {
	query := `
		INSERT INTO aggregation_runs (
			run_id, status, filter_kind, active_since, concurrency, match_version,
			wallets_total, wallets_processed, wallets_failed, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		run.RunID,
		string(run.Status),
		string(run.FilterKind),
		run.ActiveSince,
		run.Concurrency,
		run.MatchVersion,
		run.WalletsTotal,
		run.WalletsProcessed,
		run.WalletsFailed,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*models.AggregationRun, error) {
	query := `
		SELECT run_id, status, filter_kind, active_since, concurrency, match_version,
		       wallets_total, wallets_processed, wallets_failed,
		       parity_checked, parity_passed, parity_aggregate, parity_ground,
		       started_at, completed_at, error
		FROM aggregation_runs
		WHERE run_id = $1
	`

	run, err := r.scanRun(r.db.Pool().QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestIncompleteRun returns the most recent run still in the running
// state, if any. Used by --resume to pick up where an interrupted run
// stopped.
func (r *RunRepository) GetLatestIncompleteRun(ctx context.Context) (*models.AggregationRun, error) {
	query := `
		SELECT run_id, status, filter_kind, active_since, concurrency, match_version,
		       wallets_total, wallets_processed, wallets_failed,
		       parity_checked, parity_passed, parity_aggregate, parity_ground,
		       started_at, completed_at, error
		FROM aggregation_runs
		WHERE status = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := r.scanRun(r.db.Pool().QueryRow(ctx, query, string(types.RunStatusRunning)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest incomplete run: %w", err)
	}
	return run, nil
}

// MarkProcessed checkpoints a batch of completed wallets and bumps the run's
// processed counter in one transaction. The wallet set makes resume exact:
// a resumed run skips precisely these wallets.
func (r *RunRepository) MarkProcessed(ctx context.Context, runID string, wallets []string) error {
	if len(wallets) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	rows := make([][]interface{}, len(wallets))
	for i, w := range wallets {
		rows[i] = []interface{}{runID, NormalizeWallet(w), now}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"run_progress"},
		[]string{"run_id", "wallet", "processed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to checkpoint wallets: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE aggregation_runs SET wallets_processed = wallets_processed + $1 WHERE run_id = $2`,
		len(wallets), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update processed count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	return nil
}

// ProcessedWallets returns the set of wallets already checkpointed for a run
func (r *RunRepository) ProcessedWallets(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT wallet FROM run_progress WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed wallets: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]bool)
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan processed wallet: %w", err)
		}
		processed[w] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processed wallets: %w", err)
	}

	return processed, nil
}

// RecordFailedUnit records a wallet that exhausted its retries, and bumps the
// run's failed counter.
func (r *RunRepository) RecordFailedUnit(ctx context.Context, unit *models.FailedUnit) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO failed_units (run_id, wallet, reason, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, wallet) DO UPDATE
		SET reason = EXCLUDED.reason, attempts = EXCLUDED.attempts, failed_at = EXCLUDED.failed_at
	`,
		unit.RunID, NormalizeWallet(unit.Wallet), unit.Reason, unit.Attempts, unit.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record failed unit: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE aggregation_runs SET wallets_failed = wallets_failed + 1 WHERE run_id = $1`,
		unit.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update failed count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit failed unit: %w", err)
	}

	return nil
}

// ListFailedUnits returns the failed units of a run, most recent first
func (r *RunRepository) ListFailedUnits(ctx context.Context, runID string) ([]*models.FailedUnit, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT run_id, wallet, reason, attempts, failed_at
		FROM failed_units
		WHERE run_id = $1
		ORDER BY failed_at DESC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed units: %w", err)
	}
	defer rows.Close()

	var units []*models.FailedUnit
	for rows.Next() {
		var u models.FailedUnit
		if err := rows.Scan(&u.RunID, &u.Wallet, &u.Reason, &u.Attempts, &u.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed unit: %w", err)
		}
		units = append(units, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed units: %w", err)
	}

	return units, nil
}

// CompleteRun writes a run's terminal state including its parity result
func (r *RunRepository) CompleteRun(ctx context.Context, run *models.AggregationRun) error {
	query := `
		UPDATE aggregation_runs
		SET status = $2, parity_checked = $3, parity_passed = $4,
		    parity_aggregate = $5, parity_ground = $6,
		    completed_at = $7, error = $8
		WHERE run_id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query,
		run.RunID,
		string(run.Status),
		run.ParityChecked,
		run.ParityPassed,
		run.ParityAggregate,
		run.ParityGround,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return nil
}

// PublishedState is the single pointer consumers read through: the run and
// match_version whose rows are live.
type PublishedState struct {
	RunID        string
	MatchVersion int64
	PublishedAt  time.Time
}

// Publish promotes a run for consumption. The single-row upsert makes the
// swap atomic: readers resolve the published match_version in one query and
// only ever see a fully-written version.
func (r *RunRepository) Publish(ctx context.Context, runID string, matchVersion int64) error {
	query := `
		INSERT INTO published_state (id, run_id, match_version, published_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET run_id = EXCLUDED.run_id, match_version = EXCLUDED.match_version, published_at = EXCLUDED.published_at
	`

	_, err := r.db.Pool().Exec(ctx, query, runID, matchVersion, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}

	return nil
}

// GetPublishedState returns the currently published run pointer, or nil when
// no run has ever been published.
func (r *RunRepository) GetPublishedState(ctx context.Context) (*PublishedState, error) {
	var state PublishedState
	err := r.db.Pool().QueryRow(ctx,
		`SELECT run_id, match_version, published_at FROM published_state WHERE id = 1`,
	).Scan(&state.RunID, &state.MatchVersion, &state.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get published state: %w", err)
	}
	return &state, nil
}

func (r *RunRepository) scanRun(row pgx.Row) (*models.AggregationRun, error) {
	var run models.AggregationRun
	var status, filterKind string

	err := row.Scan(
		&run.RunID, &status, &filterKind, &run.ActiveSince, &run.Concurrency, &run.MatchVersion,
		&run.WalletsTotal, &run.WalletsProcessed, &run.WalletsFailed,
		&run.ParityChecked, &run.ParityPassed, &run.ParityAggregate, &run.ParityGround,
		&run.StartedAt, &run.CompletedAt, &run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.Status = types.RunStatus(status)
	run.FilterKind = types.WalletFilterKind(filterKind)
	return &run, nil
}
