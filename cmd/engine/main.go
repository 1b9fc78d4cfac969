package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading_engine/internal/config"
	"trading_engine/internal/engine"
	"trading_engine/internal/feed"
	"trading_engine/internal/gateway"
	"trading_engine/internal/infrastructure/health"
	"trading_engine/internal/infrastructure/metrics"
	"trading_engine/internal/ledger"
	"trading_engine/internal/marketstate"
	"trading_engine/internal/normalizer"
	"trading_engine/internal/order"
	"trading_engine/internal/risk"
	"trading_engine/internal/strategy"
	"trading_engine/pkg/logging"
	"trading_engine/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/engine.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trading_engine version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting trading engine",
		"version", version,
		"instruments", cfg.Feed.Instruments,
		"partitions", cfg.Engine.Partitions,
	)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup("trading_engine")
		if err != nil {
			logger.Warn("Failed to initialize telemetry (continuing without)", "error", err)
		}
	}

	// Core components
	store := marketstate.NewStore(cfg.Engine.BarCapacity, logger)
	book := ledger.NewLedger(logger)
	gate := risk.NewGate(cfg.RiskLimits(), store, logger)

	host := strategy.NewHost(logger)
	for _, sc := range cfg.Strategies {
		qty := decimal.NewFromFloat(sc.Quantity)
		switch sc.Type {
		case "sma_cross":
			host.Register(strategy.NewSMACross(sc.Instrument, sc.ShortPeriod, sc.LongPeriod, qty))
		case "quote_imbalance":
			host.Register(strategy.NewQuoteImbalance(sc.Instrument, decimal.NewFromFloat(sc.ImbalanceRatio), qty))
		}
	}

	// Execution path: sim broker behind a rate-limiting decorator. The
	// event sink is bound after the manager exists since the two
	// reference each other.
	sim := gateway.NewSim(gateway.SimConfig{
		FillLatency:  cfg.FillLatency(),
		PartialFills: cfg.Gateway.PartialFills,
		RejectRate:   cfg.Gateway.RejectRate,
		Slippage:     decimal.NewFromFloat(cfg.Gateway.Slippage),
	}, nil, logger)
	throttled := gateway.NewThrottled(sim, cfg.Gateway.RatePerSecond, cfg.Gateway.RateBurst, logger)
	orders := order.NewManager(throttled, book, logger)
	sim.SetEvents(orders)

	eng := engine.New(engine.Config{
		Partitions:    cfg.Engine.Partitions,
		QueueSize:     cfg.Engine.QueueSize,
		SubmitWorkers: cfg.Engine.SubmitWorkers,
	}, normalizer.New(), store, host, gate, orders, book, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	// Warm strategy windows from bar history, then go live
	if err := feed.Backfill(ctx, cfg.Feed, eng.HandleRawMessage, logger); err != nil {
		logger.Warn("Bar backfill failed (continuing with cold start)", "error", err)
	}
	feedClient := feed.NewClient(cfg.Feed, eng.HandleRawMessage, logger)
	feedClient.Start()

	// Health and metrics endpoints
	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("feed", feedClient.CheckHealth)
	healthMgr.Register("risk_gate", func() error {
		if gate.Latched() {
			return fmt.Errorf("daily loss latch tripped")
		}
		return nil
	})

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, healthMgr, logger)
		metricsSrv.Start()
	}

	logger.Info("Trading engine is running",
		"metrics_port", cfg.Telemetry.MetricsPort,
		"strategies", len(cfg.Strategies),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("Received shutdown signal, gracefully shutting down...")

	feedClient.Stop()
	eng.Stop()

	if cfg.System.CancelOnExit {
		cancelActiveOrders(orders, logger.Info)
	}
	sim.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}

	logger.Info("Shutdown complete", "realized_pnl", book.RealizedTotal().String())
}

// cancelActiveOrders requests cancellation of every open order and
// gives the broker a moment to confirm.
func cancelActiveOrders(orders *order.Manager, logInfo func(msg string, fields ...interface{})) {
	active := orders.ActiveOrders()
	if len(active) == 0 {
		return
	}
	logInfo("Cancelling active orders", "count", len(active))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, o := range active {
		_ = orders.Cancel(ctx, o.ID)
	}
	time.Sleep(500 * time.Millisecond)
}
