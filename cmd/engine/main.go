// Command engine is the live trading execution core's entry point.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires components, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine           — orchestrator: drives the attached strategy through Start/Pause/Resume/Stop
//	internal/bus               — priority-ordered event router every component publishes to and subscribes from
//	internal/broker             — paper simulator and live venue adapter behind one Broker interface
//	internal/marketdata          — WebSocket tick feed, republished onto the bus
//	internal/validator            — structural order checks run before submission
//	internal/risk                  — pre-trade limit checks plus the kill switch
//	internal/orders                 — order lifecycle tracking and fill application
//	internal/possync                 — local/broker position reconciliation
//	internal/pnl                      — realized/unrealized P&L and equity curve
//	internal/store                     — SQLite-backed crash-safe state snapshots
//	internal/strategy                   — the Strategy interface the engine drives
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-mm/internal/broker"
	"polymarket-mm/internal/bus"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
	marketdata "polymarket-mm/internal/marketdata"
	"polymarket-mm/internal/orders"
	"polymarket-mm/internal/pnl"
	"polymarket-mm/internal/possync"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/internal/strategy"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EXEC_CONFIG"); p != "" {
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
	logger := slog.New(handler)

	brk, err := buildBroker(*cfg, logger)
	if err != nil {
		logger.Error("failed to construct broker", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logger.Error("failed to open state store", "error", err, "path", cfg.Store.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	eventBus := bus.New(bus.Config{MaxQueueSize: cfg.Bus.MaxQueueSize}, logger)

	mdStore := marketdata.NewStore()
	mdStream := marketdata.NewStream(marketdata.StreamConfig{
		URL:                  cfg.MarketData.URL,
		Symbols:              cfg.MarketData.Symbols,
		ReconnectDelay:       cfg.MarketData.ReconnectDelay,
		MaxReconnectAttempts: cfg.MarketData.MaxReconnectAttempts,
		PingInterval:         cfg.MarketData.PingInterval,
		ReadTimeout:          cfg.MarketData.ReadTimeout,
	}, mdStore, eventBus, logger)

	ordersMgr := orders.New(brk, true, logger)
	riskSup := risk.New(cfg.Risk.ToLimits(), logger)
	syncer := possync.New(brk, cfg.PosSync.AutoReconcile, cfg.PosSync.PriceTolerance, logger)
	pnlTrk := pnl.New(cfg.PnL.InitialCapital, logger)
	strat := strategy.NewNoOp("default")

	engCfg := engine.Config{
		PositionSyncInterval: cfg.Engine.PositionSyncInterval,
		HeartbeatInterval:    cfg.Engine.HeartbeatInterval,
		MaxReconnectAttempts: cfg.Engine.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Engine.ReconnectDelay,
		DryRun:               cfg.DryRun,
	}
	eng := engine.New(engCfg, eventBus, brk, ordersMgr, riskSup, syncer, pnlTrk, st, strat, logger)

	eng.RegisterErrorCallback(func(err error) {
		logger.Error("engine failed to start", "error", err)
	})
	eng.RegisterStatusCallback(func(status engine.Status) {
		logger.Debug("heartbeat", "state", status.State, "uptime", status.Uptime, "broker_connected", status.BrokerConnected)
	})

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	mdCtx, cancelMarketData := context.WithCancel(context.Background())
	go func() {
		if err := mdStream.Run(mdCtx); err != nil && mdCtx.Err() == nil {
			logger.Error("market data stream exited", "error", err)
		}
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("execution engine started",
		"broker", cfg.Broker.Name,
		"symbols", cfg.MarketData.Symbols,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancelMarketData()
	mdStream.Close()
	eng.Stop(30 * time.Second)
}

// buildBroker constructs the configured broker through a factory, the same
// name-keyed construction pattern the rest of the component set uses for
// pluggable backends. Live-venue credentials are read from the environment,
// never the config file.
func buildBroker(cfg config.Config, logger *slog.Logger) (broker.Broker, error) {
	factory := broker.NewFactory(logger)

	factory.Register("paper", func(name string, _ map[string]any) (broker.Broker, error) {
		paperCfg := broker.PaperConfig{
			InitialCapital:   cfg.Broker.Paper.InitialCapital,
			CommissionRate:   cfg.Broker.Paper.CommissionRate,
			SlippageRate:     cfg.Broker.Paper.SlippageRate,
			MarketImpactRate: cfg.Broker.Paper.MarketImpactRate,
		}
		return broker.NewPaper(name, paperCfg, logger), nil
	})

	factory.Register("venue", func(name string, _ map[string]any) (broker.Broker, error) {
		apiKey, apiSecret := config.BrokerCredentials()
		venueCfg := broker.VenueConfig{
			Name:               name,
			BaseURL:            cfg.Broker.Venue.BaseURL,
			APIKey:             apiKey,
			APISecret:          apiSecret,
			MinRequestInterval: cfg.Broker.Venue.MinRequestInterval,
			DryRun:             cfg.DryRun,
		}
		return broker.NewVenue(venueCfg, logger), nil
	})

	return factory.Create(cfg.Broker.Name, nil)
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
