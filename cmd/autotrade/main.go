package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"autotrade-sim/internal/autotrade"
	"autotrade-sim/internal/config"
	"autotrade-sim/internal/database"
	"autotrade-sim/internal/dexscreener"
	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/logger"
	"autotrade-sim/internal/notify"
	"autotrade-sim/internal/oracle"
	"autotrade-sim/internal/store"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Price oracle: dexscreener behind a shared quote cache
	restClient := dexscreener.NewRestClient(&cfg.Oracle, log)
	var cache oracle.QuoteCache = oracle.NewMemoryCache()
	if cfg.Redis.Enabled {
		redisCache, err := oracle.NewRedisCache(cfg.Redis, log)
		if err != nil {
			log.Warn("Redis unavailable, caching quotes in memory", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}
	priceOracle := oracle.NewAdapter(restClient, cache, &cfg.Oracle, log)

	// Notifications go to the log and to websocket subscribers
	hub := notify.NewHub(log)
	sink := notify.Multi{notify.NewLogSink(log), hub}

	// Registry, restored from the last snapshot
	tokens := oracle.TokensFromConfig(cfg.Oracle.Tokens)
	registry := autotrade.NewRegistry(
		priceOracle,
		ledger.NewMemoryLedger(),
		store.NewGormStore(db, log),
		sink,
		log,
		autotrade.OptionsFromConfig(cfg.Autotrade, tokens),
	)
	if err := registry.Restore(context.Background()); err != nil {
		log.Fatal("Failed to restore sessions", zap.Error(err))
	}

	api := autotrade.NewAPIServer(registry, cfg.Server.Port, hub, log)
	api.Start()

	// Wait for a shutdown signal
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := api.Stop(ctx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	registry.Shutdown(ctx)

	log.Info("Autotrade engine has been shut down.")
}
