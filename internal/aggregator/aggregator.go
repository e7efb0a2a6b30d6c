// Package aggregator drives batch recomputation of lots and metrics over a
// wallet universe. A run rebuilds every selected wallet from its fill stream
// under a fresh match version, cross-checks the output with a parity gate,
// and only then publishes the version for consumption. A failed run leaves
// the previously published version untouched.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pnl-engine/internal/config"
	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/logging"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/refdata"
	"github.com/pnl-engine/internal/retry"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

// Aggregator owns one run at a time over the configured stores
type Aggregator struct {
	cfg     *config.AggregatorConfig
	fills   *storage.FillRepository
	lots    *storage.LotRepository
	metrics *storage.MetricsRepository
	markets *storage.MarketRepository
	prices  *storage.PriceRepository
	runs    *storage.RunRepository
}

// New creates an aggregator over the given repositories
func New(
	cfg *config.AggregatorConfig,
	fills *storage.FillRepository,
	lots *storage.LotRepository,
	metrics *storage.MetricsRepository,
	markets *storage.MarketRepository,
	prices *storage.PriceRepository,
	runs *storage.RunRepository,
) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		fills:   fills,
		lots:    lots,
		metrics: metrics,
		markets: markets,
		prices:  prices,
		runs:    runs,
	}
}

// RunOptions selects the wallet universe and resume behavior for one run
type RunOptions struct {
	Filter      storage.WalletFilter
	Concurrency int  // Overrides the configured concurrency when > 0
	Resume      bool // Continue the latest interrupted run instead of starting fresh
}

// Run executes one full aggregation pass and returns the terminal run record.
// The returned error is only non-nil for batch-level failures; individual
// wallet failures are isolated, recorded, and reflected in the run counters.
func (a *Aggregator) Run(ctx context.Context, opts RunOptions) (*models.AggregationRun, error) {
	log := logging.FromContext(ctx)

	concurrency := a.cfg.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}

	run, processed, err := a.prepareRun(ctx, opts, concurrency)
	if err != nil {
		return nil, err
	}
	log = log.WithFields(map[string]interface{}{
		"runId":        run.RunID,
		"matchVersion": run.MatchVersion,
	})
	ctx = logging.WithLogger(ctx, log)

	catalog, err := refdata.LoadCatalog(ctx, a.markets)
	if err != nil {
		return a.failRun(ctx, run, err)
	}
	book, err := refdata.LoadPriceBook(ctx, a.prices)
	if err != nil {
		return a.failRun(ctx, run, err)
	}
	log.WithFields(map[string]interface{}{
		"markets": catalog.Len(),
		"prices":  book.Len(),
	}).Info("loaded reference data")

	wallets, err := a.fills.ListWallets(ctx, opts.Filter)
	if err != nil {
		return a.failRun(ctx, run, apperrors.NewDatabaseError("list wallets", err))
	}
	if run.WalletsTotal == 0 {
		run.WalletsTotal = len(wallets)
	}

	processor := &unitProcessor{
		fills:        a.fills,
		catalog:      catalog,
		prices:       book,
		matchVersion: run.MatchVersion,
		now:          run.StartedAt,
	}
	writer := newBatchWriter(a.lots, a.metrics, a.cfg.WriteBufferRows, a.cfg.WriteRatePerSecond)
	tracker := newProgressTracker(a.runs, run.RunID, a.cfg.CheckpointEvery)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, wallet := range wallets {
		if processed[wallet] {
			continue
		}
		wallet := wallet
		g.Go(func() error {
			return a.processWallet(gctx, processor, writer, tracker, run, wallet)
		})
	}

	if err := g.Wait(); err != nil {
		return a.failRun(ctx, run, err)
	}
	if err := writer.Flush(ctx); err != nil {
		return a.failRun(ctx, run, err)
	}
	if err := tracker.Flush(ctx); err != nil {
		return a.failRun(ctx, run, err)
	}

	return a.finishRun(ctx, run)
}

// processWallet runs one unit with its timeout and retry budget. Unit
// failures never propagate: they are recorded against the run and the batch
// moves on.
func (a *Aggregator) processWallet(ctx context.Context, processor *unitProcessor, writer *batchWriter, tracker *progressTracker, run *models.AggregationRun, wallet string) error {
	log := logging.FromContext(ctx).WithField("wallet", wallet)

	retryCfg := &retry.Config{
		MaxAttempts:  a.cfg.UnitMaxRetries,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		RetryIf:      apperrors.IsRetryable,
	}

	result := retry.WithExponentialBackoff(ctx, retryCfg, func(ctx context.Context, attempt int) error {
		unitCtx, cancel := context.WithTimeout(ctx, a.cfg.UnitTimeout)
		defer cancel()

		unit, err := processor.process(unitCtx, wallet)
		if err != nil {
			if unitCtx.Err() == context.DeadlineExceeded {
				return apperrors.NewUnitTimeoutError(wallet, err)
			}
			return err
		}
		return writer.Add(ctx, unit)
	})

	if !result.Success {
		log.WithError(result.LastError).Error("wallet unit failed")
		failErr := a.runs.RecordFailedUnit(ctx, &models.FailedUnit{
			RunID:    run.RunID,
			Wallet:   wallet,
			Reason:   result.LastError.Error(),
			Attempts: result.Attempts,
			FailedAt: time.Now().UTC(),
		})
		if failErr != nil {
			// Losing the failure record would make the run summary lie
			return fmt.Errorf("failed to record failed unit %s: %w", wallet, failErr)
		}
		return nil
	}

	return tracker.MarkDone(ctx, wallet)
}

// prepareRun creates a new run record, or picks up the latest interrupted
// one when resuming. A resumed run keeps its match version so already-written
// rows stay part of the same atomic set.
func (a *Aggregator) prepareRun(ctx context.Context, opts RunOptions, concurrency int) (*models.AggregationRun, map[string]bool, error) {
	log := logging.FromContext(ctx)

	if opts.Resume {
		run, err := a.runs.GetLatestIncompleteRun(ctx)
		if err != nil {
			return nil, nil, err
		}
		if run != nil {
			processed, err := a.runs.ProcessedWallets(ctx, run.RunID)
			if err != nil {
				return nil, nil, err
			}
			log.WithFields(map[string]interface{}{
				"runId":     run.RunID,
				"processed": len(processed),
			}).Info("resuming interrupted run")
			return run, processed, nil
		}
		log.Info("no interrupted run found, starting fresh")
	}

	now := time.Now().UTC()
	run := &models.AggregationRun{
		RunID:        uuid.New().String(),
		Status:       types.RunStatusRunning,
		FilterKind:   opts.Filter.Kind,
		Concurrency:  concurrency,
		MatchVersion: now.UnixNano(),
		StartedAt:    now,
	}
	if opts.Filter.Kind == types.WalletFilterActive {
		activeSince := opts.Filter.ActiveSince
		run.ActiveSince = &activeSince
	}

	if err := a.runs.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	return run, map[string]bool{}, nil
}

// finishRun evaluates the parity gate and publishes or fails the run
func (a *Aggregator) finishRun(ctx context.Context, run *models.AggregationRun) (*models.AggregationRun, error) {
	log := logging.FromContext(ctx)

	parity, err := checkParity(ctx, a.metrics, a.lots, run.MatchVersion, a.cfg.ParityTolerance)
	if err != nil {
		return a.failRun(ctx, run, err)
	}

	run.ParityChecked = true
	run.ParityPassed = parity.Passed
	run.ParityAggregate = parity.Aggregate
	run.ParityGround = parity.Ground

	if !parity.Passed {
		log.WithFields(map[string]interface{}{
			"aggregate": parity.Aggregate,
			"ground":    parity.Ground,
			"diff":      parity.Diff,
		}).Error("parity gate failed, run will not be published")
		return a.failRun(ctx, run, fmt.Errorf(
			"parity gate failed: aggregate %.6f vs ground %.6f (diff %.6f)",
			parity.Aggregate, parity.Ground, parity.Diff))
	}

	if err := a.runs.Publish(ctx, run.RunID, run.MatchVersion); err != nil {
		return a.failRun(ctx, run, err)
	}

	// Superseded versions are unreachable once the pointer moves; pruning is
	// best-effort cleanup and must not fail a published run.
	if err := a.lots.PruneBefore(ctx, run.MatchVersion); err != nil {
		log.WithError(err).Warn("failed to prune old lot versions")
	}
	if err := a.metrics.PruneBefore(ctx, run.MatchVersion); err != nil {
		log.WithError(err).Warn("failed to prune old metrics versions")
	}

	now := time.Now().UTC()
	run.Status = types.RunStatusCompleted
	run.CompletedAt = &now
	if err := a.runs.CompleteRun(ctx, run); err != nil {
		return nil, err
	}

	refreshed, err := a.runs.GetRun(ctx, run.RunID)
	if err == nil && refreshed != nil {
		run = refreshed
	}

	log.WithFields(map[string]interface{}{
		"processed": run.WalletsProcessed,
		"failed":    run.WalletsFailed,
		"aggregate": parity.Aggregate,
		"ground":    parity.Ground,
	}).Info("run published")
	return run, nil
}

// failRun writes the run's failed terminal state and returns the cause.
// The published pointer is never touched on failure.
func (a *Aggregator) failRun(ctx context.Context, run *models.AggregationRun, cause error) (*models.AggregationRun, error) {
	now := time.Now().UTC()
	msg := cause.Error()
	run.Status = types.RunStatusFailed
	run.CompletedAt = &now
	run.Error = &msg

	if err := a.runs.CompleteRun(ctx, run); err != nil {
		logging.FromContext(ctx).WithError(err).Error("failed to record run failure")
	}
	return run, cause
}

// progressTracker batches checkpoint writes. Checkpointing every wallet
// would hammer Postgres; every N wallets bounds re-work on resume to N.
type progressTracker struct {
	mu      sync.Mutex
	pending []string
	runs    *storage.RunRepository
	runID   string
	every   int
}

func newProgressTracker(runs *storage.RunRepository, runID string, every int) *progressTracker {
	return &progressTracker{runs: runs, runID: runID, every: every}
}

// MarkDone records one completed wallet, flushing when the batch is full
func (t *progressTracker) MarkDone(ctx context.Context, wallet string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, wallet)
	if len(t.pending) < t.every {
		return nil
	}
	return t.flushLocked(ctx)
}

// Flush checkpoints any remaining wallets
func (t *progressTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

func (t *progressTracker) flushLocked(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	if err := t.runs.MarkProcessed(ctx, t.runID, t.pending); err != nil {
		return fmt.Errorf("failed to checkpoint progress: %w", err)
	}
	t.pending = t.pending[:0]
	return nil
}
