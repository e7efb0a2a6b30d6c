package aggregator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pnl-engine/internal/models"
)

type lotSink interface {
	BatchInsert(ctx context.Context, lots []*models.Lot) error
}

type metricsSink interface {
	BatchInsert(ctx context.Context, rows []*models.WalletMetricsRow) error
}

// batchWriter accumulates unit output across workers and flushes it in bulk.
// ClickHouse strongly prefers few large inserts over many small ones, so the
// writer buffers rows up to a threshold and rate-limits the insert calls.
type batchWriter struct {
	mu   sync.Mutex
	lots []*models.Lot
	rows []*models.WalletMetricsRow

	lotSink     lotSink
	metricsSink metricsSink
	limiter     *rate.Limiter
	bufferRows  int
}

func newBatchWriter(lots lotSink, metricsRows metricsSink, bufferRows, insertsPerSecond int) *batchWriter {
	return &batchWriter{
		lotSink:     lots,
		metricsSink: metricsRows,
		limiter:     rate.NewLimiter(rate.Limit(insertsPerSecond), 1),
		bufferRows:  bufferRows,
	}
}

// Add buffers one unit's output, flushing when the buffer crosses the
// threshold. Safe for concurrent use by workers.
func (w *batchWriter) Add(ctx context.Context, result *UnitResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lots = append(w.lots, result.Lots...)
	w.rows = append(w.rows, result.Rows...)

	if len(w.lots)+len(w.rows) < w.bufferRows {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush writes out whatever remains in the buffer
func (w *batchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *batchWriter) flushLocked(ctx context.Context) error {
	if len(w.lots) == 0 && len(w.rows) == 0 {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for insert slot: %w", err)
	}
	if err := w.lotSink.BatchInsert(ctx, w.lots); err != nil {
		return fmt.Errorf("failed to flush lots: %w", err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for insert slot: %w", err)
	}
	if err := w.metricsSink.BatchInsert(ctx, w.rows); err != nil {
		return fmt.Errorf("failed to flush metrics rows: %w", err)
	}

	w.lots = w.lots[:0]
	w.rows = w.rows[:0]
	return nil
}
