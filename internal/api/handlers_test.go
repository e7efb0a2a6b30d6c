package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-engine/internal/config"
	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/leaderboard"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

const testWallet = "0xabc0000000000000000000000000000000000001"

type fakeLeaderboard struct {
	lastQuery leaderboard.Query
	view      *leaderboard.View
	err       error
}

func (f *fakeLeaderboard) Top(_ context.Context, q leaderboard.Query) (*leaderboard.View, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.view, nil
}

type fakeMetricsReader struct {
	rows map[string][]*models.WalletMetricsRow
}

func (f *fakeMetricsReader) GetWalletRows(_ context.Context, wallet string, _ int64) ([]*models.WalletMetricsRow, error) {
	return f.rows[wallet], nil
}

type fakeLotReader struct {
	lots map[string][]*models.Lot
}

func (f *fakeLotReader) GetWalletLots(_ context.Context, wallet string, _ int64) ([]*models.Lot, error) {
	return f.lots[wallet], nil
}

type fakeRunReader struct {
	runs     map[string]*models.AggregationRun
	state    *storage.PublishedState
	failures []*models.FailedUnit
}

func (f *fakeRunReader) GetRun(_ context.Context, runID string) (*models.AggregationRun, error) {
	return f.runs[runID], nil
}

func (f *fakeRunReader) GetPublishedState(context.Context) (*storage.PublishedState, error) {
	return f.state, nil
}

func (f *fakeRunReader) ListFailedUnits(context.Context, string) ([]*models.FailedUnit, error) {
	return f.failures, nil
}

func newTestServer(lb leaderboardService, metrics walletMetricsReader, lots lotReader, runs runReader) *Server {
	return NewServer(&config.ServerConfig{Host: "localhost", Port: "8080"}, lb, metrics, lots, runs)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func publishedRuns() *fakeRunReader {
	return &fakeRunReader{
		runs: map[string]*models.AggregationRun{
			"r1": {RunID: "r1", Status: types.RunStatusCompleted, MatchVersion: 42, ParityChecked: true, ParityPassed: true},
		},
		state: &storage.PublishedState{RunID: "r1", MatchVersion: 42, PublishedAt: time.Now().UTC()},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, &fakeRunReader{})

	rec := doRequest(t, s, "GET", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestLeaderboardEndpoint(t *testing.T) {
	lb := &fakeLeaderboard{view: &leaderboard.View{
		Metric:       "roi_pct",
		Window:       types.Window30d,
		Category:     types.CategoryAll,
		MatchVersion: 42,
		Entries:      []*leaderboard.Entry{{Rank: 1, Wallet: testWallet, Value: 80}},
	}}
	s := newTestServer(lb, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/leaderboard?metric=roi_pct&window=30d&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "roi_pct", lb.lastQuery.Metric)
	assert.Equal(t, types.Window30d, lb.lastQuery.Window)
	assert.Equal(t, 10, lb.lastQuery.Limit)

	var view leaderboard.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Entries, 1)
	assert.Equal(t, testWallet, view.Entries[0].Wallet)
}

func TestLeaderboardDefaultsMetric(t *testing.T) {
	lb := &fakeLeaderboard{view: &leaderboard.View{}}
	s := newTestServer(lb, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/leaderboard")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "realized_pnl", lb.lastQuery.Metric)
}

func TestLeaderboardRejectsBadLimit(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/leaderboard?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PARAMETER")
}

func TestLeaderboardMapsServiceError(t *testing.T) {
	lb := &fakeLeaderboard{err: apperrors.NewNotFoundError("published dataset", "no aggregation run has been published yet")}
	s := newTestServer(lb, &fakeMetricsReader{}, &fakeLotReader{}, &fakeRunReader{})

	rec := doRequest(t, s, "GET", "/api/leaderboard?metric=roi_pct")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestWalletMetricsEndpoint(t *testing.T) {
	metrics := &fakeMetricsReader{rows: map[string][]*models.WalletMetricsRow{
		testWallet: {
			{Wallet: testWallet, Window: types.WindowLifetime, Category: types.CategoryAll, RealizedPnL: 55},
			{Wallet: testWallet, Window: types.Window30d, Category: types.CategoryAll, RealizedPnL: 12},
		},
	}}
	s := newTestServer(&fakeLeaderboard{}, metrics, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WalletMetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.MatchVersion)
	assert.Len(t, resp.Rows, 2)

	// Window filter narrows to one cell
	rec = doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/metrics?window=30d")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, types.Window30d, resp.Rows[0].Window)
}

func TestWalletMetricsInvalidWallet(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/wallets/not-a-wallet/metrics")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_WALLET_FORMAT")
}

func TestWalletMetricsUnknownWallet(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletMetricsWithoutPublishedRun(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, &fakeRunReader{})

	rec := doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "published")
}

func TestWalletLotsEndpoint(t *testing.T) {
	lots := &fakeLotReader{lots: map[string][]*models.Lot{
		testWallet: {
			{Wallet: testWallet, ConditionID: "0xcond1", Outcome: 0, FillID: "b1", RealizedPnL: 45},
			{Wallet: testWallet, ConditionID: "0xcond1", Outcome: 1, FillID: "b2", RealizedPnL: 10},
			{Wallet: testWallet, ConditionID: "0xcond2", Outcome: 0, FillID: "b3"},
		},
	}}
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, lots, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/lots")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WalletLotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Lots, 3)

	rec = doRequest(t, s, "GET", "/api/wallets/"+testWallet+"/lots?condition_id=0xcond1&outcome=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lots, 1)
	assert.Equal(t, "b2", resp.Lots[0].FillID)
}

func TestRunEndpoint(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/runs/r1")
	require.Equal(t, http.StatusOK, rec.Code)

	var run models.AggregationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "r1", run.RunID)
	assert.True(t, run.ParityPassed)

	rec = doRequest(t, s, "GET", "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishedRunEndpoint(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, publishedRuns())

	rec := doRequest(t, s, "GET", "/api/runs/published")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "r1")
}

func TestRunFailuresEndpoint(t *testing.T) {
	runs := publishedRuns()
	runs.failures = []*models.FailedUnit{
		{RunID: "r1", Wallet: testWallet, Reason: "UNIT_TIMEOUT: processing timed out", Attempts: 3},
	}
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, runs)

	rec := doRequest(t, s, "GET", "/api/runs/r1/failures")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNIT_TIMEOUT")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&fakeLeaderboard{}, &fakeMetricsReader{}, &fakeLotReader{}, &fakeRunReader{})

	req := httptest.NewRequest("OPTIONS", "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
