package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/borrowbox/borrowbox/internal/broker"
	"github.com/borrowbox/borrowbox/internal/cache"
	"github.com/borrowbox/borrowbox/internal/chat"
	"github.com/borrowbox/borrowbox/internal/config"
	"github.com/borrowbox/borrowbox/internal/database"
	"github.com/borrowbox/borrowbox/internal/logging"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/borrowbox/borrowbox/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("name", cfg.Server.Name).
		Msg("Starting BorrowBox API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		absDir, err := filepath.Abs(cfg.Database.MigrationsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve migrations directory")
		}
		if err := database.RunMigrations(cfg.Database.URL, absDir); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Redis backs chat rate limiting and the optional broker bridge. The
	// server runs without it; those features just switch off.
	var redis *cache.Redis
	var limiter *chat.RateLimiter
	if cfg.Redis.URL != "" {
		redis, err = cache.NewFromURL(cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, rate limiting and bridge disabled")
		} else {
			defer redis.Close()
			limiter = chat.NewRateLimiter(redis, &cfg.RateLimit)
		}
	}

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}
	go reportPoolStats(db)

	// Room broker, optionally bridged over Redis pub/sub
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()

	b := broker.New(cfg.Broker.SendBuffer)
	if cfg.Broker.BridgeEnabled && redis != nil {
		bridge := broker.NewBridge(b, redis, cfg.Broker.BridgeChannel)
		go bridge.Run(bridgeCtx)
		log.Info().Str("channel", cfg.Broker.BridgeChannel).Msg("Broker bridge enabled")
	}

	// Create and start server
	srv := server.NewAPIServer(cfg, db.Pool, b, limiter)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func reportPoolStats(db *database.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Pool.Stat()
		monitoring.SetDBConnections(int(stats.AcquiredConns()), int(stats.IdleConns()))
	}
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
