// Package leaderboard ranks wallets by a chosen metric over the published
// dataset. Rankings only ever read the published match version, so a run in
// flight (or a failed one) is invisible here.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pnl-engine/internal/config"
	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/logging"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

// ascendingMetrics are the metrics where smaller is better
var ascendingMetrics = map[string]bool{
	"brier_score":      true,
	"log_score":        true,
	"max_drawdown_pct": true,
}

// Query selects one leaderboard view
type Query struct {
	Metric   string           `json:"metric"`
	Window   types.TimeWindow `json:"window"`
	Category string           `json:"category"`
	Limit    int              `json:"limit"`
}

// Entry is one ranked wallet
type Entry struct {
	Rank            int      `json:"rank"`
	Wallet          string   `json:"wallet"`
	Value           float64  `json:"value"`
	Percentile      float64  `json:"percentile"` // Share of the eligible population this entry beats
	ClosedPositions int      `json:"closedPositions"`
	TotalVolumeUSD  float64  `json:"totalVolumeUsd"`
	RealizedPnL     float64  `json:"realizedPnl"`
	WinRatePct      *float64 `json:"winRatePct,omitempty"`
}

// View is one computed leaderboard response
type View struct {
	Metric       string           `json:"metric"`
	Window       types.TimeWindow `json:"window"`
	Category     string           `json:"category"`
	MatchVersion int64            `json:"matchVersion"`
	Population   int              `json:"population"` // Eligible wallets before the limit
	Entries      []*Entry         `json:"entries"`
	GeneratedAt  time.Time        `json:"generatedAt"`
}

type metricsSource interface {
	TopByMetric(ctx context.Context, metric string, window types.TimeWindow, category string, matchVersion int64, minClosed, limit int, ascending bool) ([]*models.WalletMetricsRow, error)
	MetricValues(ctx context.Context, metric string, window types.TimeWindow, category string, matchVersion int64, minClosed int) ([]float64, error)
}

type publishSource interface {
	GetPublishedState(ctx context.Context) (*storage.PublishedState, error)
}

// Service computes leaderboard views with a Redis response cache
type Service struct {
	cfg     *config.LeaderboardConfig
	metrics metricsSource
	runs    publishSource
	cache   *storage.RedisCache
}

// NewService creates a leaderboard service. The cache may be nil; views are
// then computed on every request.
func NewService(cfg *config.LeaderboardConfig, metrics metricsSource, runs publishSource, cache *storage.RedisCache) *Service {
	return &Service{cfg: cfg, metrics: metrics, runs: runs, cache: cache}
}

// Top returns the ranked view for a query
func (s *Service) Top(ctx context.Context, q Query) (*View, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}

	state, err := s.runs.GetPublishedState(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get published state", err)
	}
	if state == nil {
		return nil, apperrors.NewNotFoundError("published dataset", "no aggregation run has been published yet")
	}

	cacheKey := s.cacheKey(q, state.MatchVersion)
	if view := s.fromCache(ctx, cacheKey); view != nil {
		return view, nil
	}

	ascending := ascendingMetrics[q.Metric]
	rows, err := s.metrics.TopByMetric(ctx, q.Metric, q.Window, q.Category, state.MatchVersion, s.cfg.MinClosedPositions, q.Limit, ascending)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query leaderboard", err)
	}

	values, err := s.metrics.MetricValues(ctx, q.Metric, q.Window, q.Category, state.MatchVersion, s.cfg.MinClosedPositions)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query metric population", err)
	}

	view := &View{
		Metric:       q.Metric,
		Window:       q.Window,
		Category:     q.Category,
		MatchVersion: state.MatchVersion,
		Population:   len(values),
		GeneratedAt:  time.Now().UTC(),
	}

	for i, row := range rows {
		value, ok := metricValue(row, q.Metric)
		if !ok {
			continue
		}
		view.Entries = append(view.Entries, &Entry{
			Rank:            i + 1,
			Wallet:          row.Wallet,
			Value:           value,
			Percentile:      percentile(values, value, ascending),
			ClosedPositions: row.ClosedPositions,
			TotalVolumeUSD:  row.TotalVolumeUSD,
			RealizedPnL:     row.RealizedPnL,
			WinRatePct:      row.WinRatePct,
		})
	}

	s.toCache(ctx, cacheKey, view)
	return view, nil
}

// Invalidate drops every cached view. The aggregator calls this after
// publishing a new run; stale keys would also age out via TTL.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePattern(ctx, "leaderboard:*")
}

func (s *Service) normalize(q *Query) error {
	if _, ok := storage.MetricColumn(q.Metric); !ok {
		return apperrors.NewInvalidParameterError("metric", fmt.Sprintf("unknown metric %q", q.Metric))
	}

	switch q.Window {
	case types.Window30d, types.Window90d, types.Window180d, types.WindowLifetime:
	case "":
		q.Window = types.WindowLifetime
	default:
		return apperrors.NewInvalidParameterError("window", fmt.Sprintf("unknown window %q", q.Window))
	}

	if q.Category == "" {
		q.Category = types.CategoryAll
	}

	if q.Limit <= 0 {
		q.Limit = s.cfg.DefaultLimit
	}
	if q.Limit > s.cfg.MaxLimit {
		q.Limit = s.cfg.MaxLimit
	}

	return nil
}

func (s *Service) cacheKey(q Query, matchVersion int64) string {
	return fmt.Sprintf("leaderboard:%s:%s:%s:%d:%d", q.Metric, q.Window, q.Category, q.Limit, matchVersion)
}

func (s *Service) fromCache(ctx context.Context, key string) *View {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !storage.IsCacheMiss(err) {
			logging.FromContext(ctx).WithError(err).Warn("leaderboard cache read failed")
		}
		return nil
	}

	var view View
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil
	}
	return &view
}

func (s *Service) toCache(ctx context.Context, key string, view *View) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	// Cache failures degrade to recomputation, never to an error response
	if err := s.cache.Set(ctx, key, string(raw), s.cfg.CacheTTL); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("leaderboard cache write failed")
	}
}

// percentile returns the share of the population an entry beats, in percent.
// values must be sorted ascending.
func percentile(values []float64, value float64, ascending bool) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	if ascending {
		// Smaller is better: beat everyone strictly above
		above := n - sort.SearchFloat64s(values, value) - countEqual(values, value)
		return float64(above) / float64(n) * 100
	}

	below := sort.SearchFloat64s(values, value)
	return float64(below) / float64(n) * 100
}

func countEqual(values []float64, value float64) int {
	i := sort.SearchFloat64s(values, value)
	var n int
	for ; i < len(values) && values[i] == value; i++ {
		n++
	}
	return n
}

// metricValue extracts the ranked metric's value from a row
func metricValue(row *models.WalletMetricsRow, metric string) (float64, bool) {
	switch metric {
	case "realized_pnl":
		return row.RealizedPnL, true
	case "total_volume_usd":
		return row.TotalVolumeUSD, true
	case "net_pnl":
		return deref(row.NetPnL)
	case "roi_pct":
		return deref(row.ROIPct)
	case "win_rate_pct":
		return deref(row.WinRatePct)
	case "profit_factor":
		return deref(row.ProfitFactor)
	case "sharpe_ratio":
		return deref(row.SharpeRatio)
	case "sortino_ratio":
		return deref(row.SortinoRatio)
	case "calmar_ratio":
		return deref(row.CalmarRatio)
	case "omega_ratio":
		return deref(row.OmegaRatio)
	case "max_drawdown_pct":
		return deref(row.MaxDrawdownPct)
	case "kelly_pct":
		return deref(row.KellyPct)
	case "brier_score":
		return deref(row.BrierScore)
	case "log_score":
		return deref(row.LogScore)
	case "clv_bps":
		return deref(row.CLVBps)
	case "expectancy_usd":
		return deref(row.ExpectancyUSD)
	default:
		return 0, false
	}
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
