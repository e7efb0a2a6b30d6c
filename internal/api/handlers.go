package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/leaderboard"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleLeaderboard handles GET /api/leaderboard
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	query := leaderboard.Query{
		Metric:   r.URL.Query().Get("metric"),
		Window:   types.TimeWindow(r.URL.Query().Get("window")),
		Category: r.URL.Query().Get("category"),
	}
	if query.Metric == "" {
		query.Metric = "realized_pnl"
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a positive integer", nil)
			return
		}
		query.Limit = limit
	}

	view, err := s.leaderboard.Top(r.Context(), query)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// WalletMetricsResponse is the per-wallet metrics payload. Rows carry every
// window and category cell computed for the wallet at the published version.
type WalletMetricsResponse struct {
	Wallet       string                     `json:"wallet"`
	MatchVersion int64                      `json:"matchVersion"`
	Rows         []*models.WalletMetricsRow `json:"rows"`
}

// handleWalletMetrics handles GET /api/wallets/{wallet}/metrics
func (s *Server) handleWalletMetrics(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}

	state, ok := s.publishedState(w, r)
	if !ok {
		return
	}

	rows, err := s.metrics.GetWalletRows(r.Context(), wallet, state.MatchVersion)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get wallet metrics", err))
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no metrics for wallet "+wallet, nil)
		return
	}

	window := types.TimeWindow(r.URL.Query().Get("window"))
	category := r.URL.Query().Get("category")
	if window != "" || category != "" {
		rows = filterRows(rows, window, category)
	}

	respondJSON(w, http.StatusOK, WalletMetricsResponse{
		Wallet:       wallet,
		MatchVersion: state.MatchVersion,
		Rows:         rows,
	})
}

// WalletLotsResponse is the lot audit trail payload
type WalletLotsResponse struct {
	Wallet       string        `json:"wallet"`
	MatchVersion int64         `json:"matchVersion"`
	Lots         []*models.Lot `json:"lots"`
}

// handleWalletLots handles GET /api/wallets/{wallet}/lots
func (s *Server) handleWalletLots(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}

	state, ok := s.publishedState(w, r)
	if !ok {
		return
	}

	lots, err := s.lots.GetWalletLots(r.Context(), wallet, state.MatchVersion)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get wallet lots", err))
		return
	}

	if conditionID := r.URL.Query().Get("condition_id"); conditionID != "" {
		lots = filterLots(lots, conditionID, r.URL.Query().Get("outcome"))
	}

	respondJSON(w, http.StatusOK, WalletLotsResponse{
		Wallet:       wallet,
		MatchVersion: state.MatchVersion,
		Lots:         lots,
	})
}

// handlePublishedRun handles GET /api/runs/published
func (s *Server) handlePublishedRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.runs.GetPublishedState(r.Context())
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get published state", err))
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no aggregation run has been published yet", nil)
		return
	}

	run, err := s.runs.GetRun(r.Context(), state.RunID)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get run", err))
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "published run not found: "+state.RunID, nil)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// handleRun handles GET /api/runs/{runId}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get run", err))
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "run not found: "+runID, nil)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// handleRunFailures handles GET /api/runs/{runId}/failures
func (s *Server) handleRunFailures(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get run", err))
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "run not found: "+runID, nil)
		return
	}

	units, err := s.runs.ListFailedUnits(r.Context(), runID)
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("list failed units", err))
		return
	}
	if units == nil {
		units = []*models.FailedUnit{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId":    runID,
		"failures": units,
	})
}

// walletParam extracts and validates the wallet path parameter
func (s *Server) walletParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := mux.Vars(r)["wallet"]
	if err := storage.ValidateWallet(wallet); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_WALLET_FORMAT", err.Error(), nil)
		return "", false
	}
	return storage.NormalizeWallet(wallet), true
}

// publishedState resolves the published pointer; responds 404 if nothing is
// published yet.
func (s *Server) publishedState(w http.ResponseWriter, r *http.Request) (*storage.PublishedState, bool) {
	state, err := s.runs.GetPublishedState(r.Context())
	if err != nil {
		respondCategorized(w, apperrors.NewDatabaseError("get published state", err))
		return nil, false
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no aggregation run has been published yet", nil)
		return nil, false
	}
	return state, true
}

func filterRows(rows []*models.WalletMetricsRow, window types.TimeWindow, category string) []*models.WalletMetricsRow {
	out := make([]*models.WalletMetricsRow, 0, len(rows))
	for _, row := range rows {
		if window != "" && row.Window != window {
			continue
		}
		if category != "" && row.Category != category {
			continue
		}
		out = append(out, row)
	}
	return out
}

func filterLots(lots []*models.Lot, conditionID, outcome string) []*models.Lot {
	out := make([]*models.Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.ConditionID != conditionID {
			continue
		}
		if outcome != "" && strconv.Itoa(lot.Outcome) != outcome {
			continue
		}
		out = append(out, lot)
	}
	return out
}
