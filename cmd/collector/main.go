// Collector daemon — a 24/7 data-ingestion service for Polymarket
// prediction markets.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the supervisor, waits for SIGINT/SIGTERM
//	internal/supervisor       — orchestrates collectors as monitored goroutines with crash recovery
//	internal/collector        — metadata, price, order-book, resolution pollers + the trade listener
//	internal/upstream          — Gamma REST client + CLOB WebSocket trade feed
//	internal/store             — TimescaleDB-backed persistence for every time series
//	internal/features          — price-return/volatility/spread/imbalance/volume-profile queries
//	internal/signals           — same-event, mean-reversion, and spread trading signal generators
//
// This is a read-only data plane: it never signs or places an order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"polymarket-collector/internal/collector"
	"polymarket-collector/internal/config"
	"polymarket-collector/internal/ratelimit"
	"polymarket-collector/internal/store"
	"polymarket-collector/internal/supervisor"
	"polymarket-collector/internal/upstream"
)

// stubSubcommands names the CLI surface per the daemon's named boundaries.
// Only "collect" is implemented here; the rest are recognised flags that
// print a boundary notice, since this module owns ingestion and
// analytics, not scanning/execution/dashboards.
var stubSubcommands = map[string]string{
	"scan":  "market scanning is a collaborator boundary, not owned by this module",
	"run":   "order execution is excluded per the module's non-goals",
	"check": "risk/circuit-breaker checks are excluded per the module's non-goals",
	"price": "use `collect` and query price_snapshots directly; no ad hoc price-check subcommand is implemented",
	"book":  "use `collect` and query orderbook_snapshots directly; no ad hoc book-check subcommand is implemented",
}

func main() {
	subcommand := "collect"
	if len(os.Args) > 1 {
		subcommand = os.Args[1]
	}

	if msg, ok := stubSubcommands[subcommand]; ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", subcommand, msg)
		os.Exit(1)
	}
	if subcommand != "collect" {
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (expected one of: collect, scan, run, check, price, book)\n", subcommand)
		os.Exit(1)
	}

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COLLECTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("run_id", uuid.New().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	applied, err := store.Migrate(ctx, st.Pool())
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "count", applied)

	limits := ratelimit.NewSet()
	newClient := func() *upstream.Client { return upstream.NewClient(cfg.Polymarket, limits, logger) }

	metadataClient := newClient()
	priceClient := newClient()
	orderbookClient := newClient()
	resolutionClient := newClient()

	pollers := map[string]supervisor.Collector{
		"metadata":    collector.NewMetadataCollector(st, metadataClient, logger),
		"prices":      collector.NewPriceCollector(st, priceClient, cfg.Collector.MaxMarkets, logger),
		"orderbooks":  collector.NewOrderbookCollector(st, orderbookClient, logger),
		"resolutions": collector.NewResolutionCollector(st, resolutionClient, logger),
	}
	intervals := map[string]time.Duration{
		"metadata":    time.Duration(cfg.Collector.MetadataIntervalSec) * time.Second,
		"prices":      time.Duration(cfg.Collector.PriceIntervalSec) * time.Second,
		"orderbooks":  time.Duration(cfg.Collector.OrderbookIntervalSec) * time.Second,
		"resolutions": time.Duration(cfg.Collector.ResolutionCheckIntervalSec) * time.Second,
	}

	newListener := func() *collector.TradeListener {
		return collector.NewTradeListener(st, cfg.Collector, cfg.Polymarket.WSHost, logger)
	}

	sup := supervisor.New(cfg.Supervisor, pollers, intervals, newListener, resolutionClient, logger)

	logger.Info("collector daemon starting",
		"metadata_interval_sec", cfg.Collector.MetadataIntervalSec,
		"price_interval_sec", cfg.Collector.PriceIntervalSec,
		"orderbook_interval_sec", cfg.Collector.OrderbookIntervalSec,
		"resolution_check_interval_sec", cfg.Collector.ResolutionCheckIntervalSec,
	)

	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("collector daemon stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
