// Package api exposes the read side of the P&L engine over HTTP: leaderboard
// views, per-wallet metrics, lot audit trails, and run status. All reads are
// pinned to the published match version.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pnl-engine/internal/config"
	"github.com/pnl-engine/internal/leaderboard"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
)

type leaderboardService interface {
	Top(ctx context.Context, q leaderboard.Query) (*leaderboard.View, error)
}

type walletMetricsReader interface {
	GetWalletRows(ctx context.Context, wallet string, matchVersion int64) ([]*models.WalletMetricsRow, error)
}

type lotReader interface {
	GetWalletLots(ctx context.Context, wallet string, matchVersion int64) ([]*models.Lot, error)
}

type runReader interface {
	GetRun(ctx context.Context, runID string) (*models.AggregationRun, error)
	GetPublishedState(ctx context.Context) (*storage.PublishedState, error)
	ListFailedUnits(ctx context.Context, runID string) ([]*models.FailedUnit, error)
}

// Server is the HTTP API server
type Server struct {
	config      *config.ServerConfig
	leaderboard leaderboardService
	metrics     walletMetricsReader
	lots        lotReader
	runs        runReader
	httpServer  *http.Server
	router      *mux.Router
}

// NewServer creates a new API server
func NewServer(cfg *config.ServerConfig, lb leaderboardService, metrics walletMetricsReader, lots lotReader, runs runReader) *Server {
	s := &Server{
		config:      cfg,
		leaderboard: lb,
		metrics:     metrics,
		lots:        lots,
		runs:        runs,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the HTTP router with all routes and middleware
func (s *Server) setupRouter() {
	s.router = mux.NewRouter()

	// Apply middleware
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")

	api.HandleFunc("/wallets/{wallet}/metrics", s.handleWalletMetrics).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/lots", s.handleWalletLots).Methods("GET")

	api.HandleFunc("/runs/published", s.handlePublishedRun).Methods("GET")
	api.HandleFunc("/runs/{runId}", s.handleRun).Methods("GET")
	api.HandleFunc("/runs/{runId}/failures", s.handleRunFailures).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router, primarily for testing
func (s *Server) Router() *mux.Router {
	return s.router
}
