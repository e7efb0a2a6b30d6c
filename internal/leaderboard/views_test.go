package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-engine/internal/config"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

type fakeMetrics struct {
	rows   []*models.WalletMetricsRow
	values []float64
	calls  int
}

func (f *fakeMetrics) TopByMetric(_ context.Context, _ string, _ types.TimeWindow, _ string, _ int64, minClosed, limit int, _ bool) ([]*models.WalletMetricsRow, error) {
	f.calls++
	var out []*models.WalletMetricsRow
	for _, row := range f.rows {
		if row.ClosedPositions >= minClosed {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMetrics) MetricValues(context.Context, string, types.TimeWindow, string, int64, int) ([]float64, error) {
	return f.values, nil
}

type fakePublished struct {
	state *storage.PublishedState
}

func (f *fakePublished) GetPublishedState(context.Context) (*storage.PublishedState, error) {
	return f.state, nil
}

func testConfig() *config.LeaderboardConfig {
	return &config.LeaderboardConfig{
		MinClosedPositions: 5,
		DefaultLimit:       50,
		MaxLimit:           500,
		CacheTTL:           time.Minute,
	}
}

func ptr(v float64) *float64 { return &v }

func row(wallet string, roi float64, closed int, volume float64) *models.WalletMetricsRow {
	return &models.WalletMetricsRow{
		Wallet:          wallet,
		Window:          types.WindowLifetime,
		Category:        types.CategoryAll,
		ROIPct:          ptr(roi),
		ClosedPositions: closed,
		TotalVolumeUSD:  volume,
	}
}

func TestTopRanksAndBuckets(t *testing.T) {
	metrics := &fakeMetrics{
		rows: []*models.WalletMetricsRow{
			row("0xaaa", 80, 20, 5000),
			row("0xbbb", 40, 12, 9000),
			row("0xccc", 10, 8, 100),
		},
		values: []float64{10, 40, 80},
	}
	published := &fakePublished{state: &storage.PublishedState{RunID: "r1", MatchVersion: 42}}

	svc := NewService(testConfig(), metrics, published, nil)
	view, err := svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)

	assert.Equal(t, int64(42), view.MatchVersion)
	assert.Equal(t, 3, view.Population)
	require.Len(t, view.Entries, 3)

	assert.Equal(t, 1, view.Entries[0].Rank)
	assert.Equal(t, "0xaaa", view.Entries[0].Wallet)
	assert.InDelta(t, 80, view.Entries[0].Value, 1e-9)
	assert.InDelta(t, 100.0*2/3, view.Entries[0].Percentile, 1e-9)
	assert.InDelta(t, 0, view.Entries[2].Percentile, 1e-9)
}

func TestTopFiltersSmallSamples(t *testing.T) {
	metrics := &fakeMetrics{
		rows: []*models.WalletMetricsRow{
			row("0xaaa", 80, 20, 5000),
			row("0xbbb", 500, 2, 100), // Too few closed positions to rank
		},
		values: []float64{80},
	}
	published := &fakePublished{state: &storage.PublishedState{MatchVersion: 1}}

	svc := NewService(testConfig(), metrics, published, nil)
	view, err := svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)

	require.Len(t, view.Entries, 1)
	assert.Equal(t, "0xaaa", view.Entries[0].Wallet)
}

func TestTopRejectsUnknownMetric(t *testing.T) {
	svc := NewService(testConfig(), &fakeMetrics{}, &fakePublished{}, nil)
	_, err := svc.Top(context.Background(), Query{Metric: "vibes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_PARAMETER")
}

func TestTopWithoutPublishedRun(t *testing.T) {
	svc := NewService(testConfig(), &fakeMetrics{}, &fakePublished{state: nil}, nil)
	_, err := svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestTopUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	metrics := &fakeMetrics{
		rows:   []*models.WalletMetricsRow{row("0xaaa", 80, 20, 5000)},
		values: []float64{80},
	}
	published := &fakePublished{state: &storage.PublishedState{MatchVersion: 7}}

	svc := NewService(testConfig(), metrics, published, cache)

	first, err := svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)
	second, err := svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.calls, "second request served from cache")
	assert.Equal(t, first.Entries[0].Wallet, second.Entries[0].Wallet)

	// A new published version gets its own cache key
	published.state = &storage.PublishedState{MatchVersion: 8}
	_, err = svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.calls)

	require.NoError(t, svc.Invalidate(context.Background()))
	_, err = svc.Top(context.Background(), Query{Metric: "roi_pct"})
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.calls)
}

func TestPercentileAscendingMetric(t *testing.T) {
	// For brier score smaller is better
	values := []float64{0.1, 0.2, 0.3, 0.4}
	assert.InDelta(t, 75, percentile(values, 0.1, true), 1e-9)
	assert.InDelta(t, 0, percentile(values, 0.4, true), 1e-9)
	assert.InDelta(t, 75, percentile(values, 0.4, false), 1e-9)
}
