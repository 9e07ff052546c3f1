package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"positionKeeper/config"
	"positionKeeper/internal/adapters/binanceclient"
	"positionKeeper/internal/adapters/clock"
	"positionKeeper/internal/adapters/logger"
	"positionKeeper/internal/adapters/sqlite"
	"positionKeeper/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database store")
		log.Fatalf("FATAL: Failed to initialize database store: %v", err) // Also log to stderr
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database store")
		}
	}()
	appLogger.Info(context.Background(), "Database store initialized")

	// 4. Initialize Exchange Gateway (Binance Adapter)
	gateway, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize the three lifecycle loops
	clk := clock.New()

	reopener, err := app.NewReopenScheduler(store, gateway, clk, appLogger, cfg.ReopenRetryInterval, cfg.CallTimeout)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reopen scheduler")
		log.Fatalf("FATAL: Failed to initialize reopen scheduler: %v", err)
	}

	reconciler, err := app.NewReconciler(store, gateway, reopener, clk, appLogger, cfg.CallTimeout)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	recovery, err := app.NewRecoveryEngine(store, gateway, clk, appLogger, cfg.CallTimeout)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize recovery engine")
		log.Fatalf("FATAL: Failed to initialize recovery engine: %v", err)
	}

	// 6. Initialize Orchestrator
	orchestrator, err := app.NewOrchestrator(app.OrchestratorConfig{
		Reconciler:        reconciler,
		Reopener:          reopener,
		Recovery:          recovery,
		Clock:             clk,
		Logger:            appLogger,
		ReconcileInterval: cfg.ReconcileInterval,
		ReopenInterval:    cfg.ReopenInterval,
		RecoveryInterval:  cfg.RecoveryInterval,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	// 7. Start the loops and block until a shutdown signal arrives
	orchestrator.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(context.Background(), "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	orchestrator.Stop()
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
