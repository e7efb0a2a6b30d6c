// Package main provides the batch aggregation entry point: it recomputes
// lots and wallet metrics for a wallet universe under a fresh match version
// and publishes the result once the parity gate passes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pnl-engine/internal/aggregator"
	"github.com/pnl-engine/internal/config"
	"github.com/pnl-engine/internal/leaderboard"
	"github.com/pnl-engine/internal/logging"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/storage"
	"github.com/pnl-engine/internal/types"
)

func main() {
	var (
		walletsFlag     = flag.String("wallets", "", "Comma-separated wallet addresses to process (explicit filter)")
		activeSinceFlag = flag.String("active-since", "", "Process wallets with a fill since this RFC3339 time or duration (e.g. 720h)")
		allFlag         = flag.Bool("all", false, "Process every wallet with at least one fill")
		concurrency     = flag.Int("concurrency", 0, "Worker goroutines (0 uses the configured default)")
		resume          = flag.Bool("resume", false, "Resume the latest interrupted run")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	filter, err := buildFilter(*walletsFlag, *activeSinceFlag, *allFlag, *resume)
	if err != nil {
		logger.WithError(err).Fatal("Invalid wallet filter")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	// Redis is only needed to invalidate leaderboard caches after publishing;
	// the run itself can proceed without it.
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, leaderboard caches will age out via TTL")
		redis = nil
	} else {
		defer redis.Close()
	}

	fillRepo := storage.NewFillRepository(clickhouse)
	lotRepo := storage.NewLotRepository(clickhouse)
	metricsRepo := storage.NewMetricsRepository(clickhouse)
	marketRepo := storage.NewMarketRepository(postgres)
	priceRepo := storage.NewPriceRepository(clickhouse)
	runRepo := storage.NewRunRepository(postgres)

	agg := aggregator.New(&cfg.Aggregator, fillRepo, lotRepo, metricsRepo, marketRepo, priceRepo, runRepo)

	// Cancel the run cleanly on SIGINT/SIGTERM; an interrupted run can be
	// picked up later with --resume.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	run, err := agg.Run(ctx, aggregator.RunOptions{
		Filter:      filter,
		Concurrency: *concurrency,
		Resume:      *resume,
	})
	if err != nil {
		if run != nil {
			printSummary(run)
		}
		logger.WithError(err).Error("Aggregation run failed")
		os.Exit(1)
	}

	printSummary(run)

	if redis != nil {
		lb := leaderboard.NewService(&cfg.Leaderboard, metricsRepo, runRepo, redis)
		if err := lb.Invalidate(ctx); err != nil {
			logger.WithError(err).Warn("Failed to invalidate leaderboard caches")
		}
	}
}

// buildFilter translates the mutually exclusive selection flags into a wallet
// filter. When resuming, the stored run already fixes the universe and no
// selection flag is required.
func buildFilter(wallets, activeSince string, all, resume bool) (storage.WalletFilter, error) {
	selected := 0
	if wallets != "" {
		selected++
	}
	if activeSince != "" {
		selected++
	}
	if all {
		selected++
	}
	if selected > 1 {
		return storage.WalletFilter{}, fmt.Errorf("--wallets, --active-since and --all are mutually exclusive")
	}
	if selected == 0 && !resume {
		return storage.WalletFilter{}, fmt.Errorf("one of --wallets, --active-since, --all or --resume is required")
	}

	switch {
	case wallets != "":
		list := strings.Split(wallets, ",")
		for i := range list {
			list[i] = storage.NormalizeWallet(strings.TrimSpace(list[i]))
			if err := storage.ValidateWallet(list[i]); err != nil {
				return storage.WalletFilter{}, err
			}
		}
		return storage.WalletFilter{Kind: types.WalletFilterExplicit, Wallets: list}, nil

	case activeSince != "":
		cutoff, err := parseCutoff(activeSince)
		if err != nil {
			return storage.WalletFilter{}, err
		}
		return storage.WalletFilter{Kind: types.WalletFilterActive, ActiveSince: cutoff}, nil

	default:
		return storage.WalletFilter{Kind: types.WalletFilterAll}, nil
	}
}

// parseCutoff accepts an absolute RFC3339 time or a relative duration
func parseCutoff(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse --active-since %q as RFC3339 time or duration", raw)
}

func printSummary(run *models.AggregationRun) {
	fmt.Printf("run %s: status=%s processed=%d failed=%d\n",
		run.RunID, run.Status, run.WalletsProcessed, run.WalletsFailed)
	if run.ParityChecked {
		fmt.Printf("parity: aggregate=%.6f ground=%.6f passed=%t\n",
			run.ParityAggregate, run.ParityGround, run.ParityPassed)
	}
	if run.Error != nil {
		fmt.Printf("error: %s\n", *run.Error)
	}
}
