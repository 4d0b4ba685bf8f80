package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkoval/leadpilot/internal/api"
	"github.com/dkoval/leadpilot/internal/config"
	applogger "github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/mirror"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/service"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize bootstrap logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	lockRepo := repository.NewLockRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	flagsRepo := repository.NewFlagsRepository(db)

	// Application logger used inside handlers and services
	serviceLogger := applogger.NewFromEnv(nil)
	applogger.SetDefaultLogger(serviceLogger)

	// The API never mirrors; manual lead transitions still flow through the
	// lead service, which treats a nil-backed side-channel as a no-op.
	side := mirror.NewSideChannel(nil)

	// Initialize services
	leadService := service.NewLeadService(leadRepo, outboxRepo, side, serviceLogger)
	riskEngine := service.NewRiskEngine(cfg.Risk, statsRepo, jobRepo, leadRepo, flagsRepo, serviceLogger)

	// Setup router
	router := api.SetupRouter(cfg.Server, api.Deps{
		DB:                 db,
		JobRepo:            jobRepo,
		LockRepo:           lockRepo,
		FlagsRepo:          flagsRepo,
		OutboxRepo:         outboxRepo,
		StatsRepo:          statsRepo,
		LeadRepo:           leadRepo,
		Leads:              leadService,
		Risk:               riskEngine,
		LockKey:            cfg.Lock.Key,
		DefaultPriority:    cfg.Queue.DefaultPriority,
		DefaultMaxAttempts: cfg.Runner.DefaultMaxAttempts,
		Logger:             serviceLogger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server",
			zap.Int("port", cfg.Server.Port),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
