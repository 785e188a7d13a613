package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"turtleAdvisor/config"
	"turtleAdvisor/internal/adapters/binanceclient"
	"turtleAdvisor/internal/adapters/logger"
	"turtleAdvisor/internal/adapters/sqlite"
	"turtleAdvisor/internal/app"
	"turtleAdvisor/internal/strategy"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run() error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Market Data Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 5. Initialize Strategy
	strat, err := strategy.New(cfg.StrategyConfig(), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}
	appLogger.Info(context.Background(), "Strategy initialized", map[string]interface{}{
		"strategy":       strat.Name(),
		"requiredPoints": strat.RequiredDataPoints(),
	})

	// 6. Initialize Application Service
	advisor, err := app.NewAdvisorService(cfg, appLogger, binanceClient, repo, strat)
	if err != nil {
		return fmt.Errorf("failed to initialize advisor service: %w", err)
	}

	// 7. Run until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := advisor.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Advisor service exited with error")
		return err
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
	return nil
}
