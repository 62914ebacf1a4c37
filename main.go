package main

import (
	"context"
	"log" // only for fatal errors before the logger is set up
	"os/signal"
	"syscall"

	"ghosttrader/config"
	"ghosttrader/internal/adapters/dexrouter"
	"ghosttrader/internal/adapters/logger"
	"ghosttrader/internal/adapters/pricefeed"
	"ghosttrader/internal/adapters/sqlite"
	"ghosttrader/internal/custody"
	"ghosttrader/internal/monitor"
	"ghosttrader/internal/sessioncred"
	"ghosttrader/internal/trading"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	// 2. Logger
	appLogger := logger.New(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Storage
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "error closing store")
		}
	}()

	// 4. Market adapters
	feed, err := pricefeed.New(pricefeed.Config{
		APIKey:     cfg.BinanceAPIKey,
		SecretKey:  cfg.BinanceSecretKey,
		QuoteAsset: cfg.QuoteAsset,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize price feed: %v", err)
	}
	router, err := dexrouter.New(dexrouter.Config{
		BaseURL:       cfg.RouterBaseURL,
		Logger:        appLogger,
		QuoteDecimals: int32(cfg.QuoteDecimals),
		TokenDecimals: int32(cfg.TokenDecimals),
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize routing client: %v", err)
	}

	// 5. Custody service
	issuer, err := sessioncred.NewIssuer(cfg.ServerSecret)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize credential issuer: %v", err)
	}
	custodySvc, err := custody.NewService(custody.Config{
		Users:           store.Users(),
		Wallets:         store.Wallets(),
		RefreshTokens:   store.RefreshTokens(),
		Audit:           store.Audit(),
		Logger:          appLogger,
		Credentials:     issuer,
		JWTSecret:       cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize custody service: %v", err)
	}

	// 6. Trading service
	tradingSvc, err := trading.NewService(trading.Config{
		Logger:  appLogger,
		Custody: custodySvc,
		Wallets: store.Wallets(),
		Trades:  store.Trades(),
		Audit:   store.Audit(),
		Router:  router,
		Guard: trading.GuardConfig{
			MaxOpenTrades:  cfg.MaxOpenTrades,
			MaxEntryAmount: cfg.MaxEntryAmount,
			MaxSlippageBps: cfg.MaxSlippageBps,
		},
		ExecTimeout: cfg.SwapExecTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize trading service: %v", err)
	}

	// 7. Monitor
	sched, err := monitor.NewScheduler(monitor.Config{
		Logger:      appLogger,
		Trades:      store.Trades(),
		Prices:      feed,
		Evaluator:   tradingSvc,
		Interval:    cfg.MonitorInterval,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize monitor: %v", err)
	}

	// 8. Run until interrupted
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(runCtx); err != nil {
		log.Fatalf("FATAL: failed to start monitor: %v", err)
	}
	<-runCtx.Done()
	appLogger.Info(ctx, "shutdown signal received, waiting for in-flight cycle")
	sched.Stop()
	appLogger.Info(ctx, "application finished gracefully")
}
