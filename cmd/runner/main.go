package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/executor"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/mirror"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "leadpilot-runner",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	accounts := flag.String("accounts", "", "Comma-separated account IDs (overrides config)")
	once := flag.Bool("once", false, "Run a single pass and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *accounts != "" {
		cfg.Runner.Accounts = strings.Split(*accounts, ",")
	}
	if len(cfg.Runner.Accounts) == 0 {
		appLogger.Fatal("No accounts configured")
	}

	appLogger.WithFields(logger.Fields{
		"accounts": cfg.Runner.Accounts,
		"once":     *once,
	}).Info("Starting runner")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	lockRepo := repository.NewLockRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	flagsRepo := repository.NewFlagsRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize mirror side-channel (Noop unless configured)
	var side *mirror.SideChannel
	if cfg.Mirror.Enabled {
		s3Mirror, err := mirror.NewS3Mirror(&mirror.S3Config{
			Type:      mirror.StoreType(cfg.Mirror.Type),
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			UseSSL:    cfg.Mirror.UseSSL,
			Bucket:    cfg.Mirror.Bucket,
			Region:    cfg.Mirror.Region,
			Prefix:    cfg.Mirror.Prefix,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize mirror storage")
		}
		if err := s3Mirror.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure mirror bucket")
		}
		side = mirror.NewSideChannel(s3Mirror)
	} else {
		side = mirror.NewSideChannel(nil)
	}

	// Initialize services
	leadService := service.NewLeadService(leadRepo, outboxRepo, side, appLogger)
	riskEngine := service.NewRiskEngine(cfg.Risk, statsRepo, jobRepo, leadRepo, flagsRepo, appLogger)
	exec := executor.NewHTTPExecutor(cfg.Worker)
	runner := service.NewRunner(
		cfg.Runner,
		cfg.Lock,
		jobRepo,
		outboxRepo,
		statsRepo,
		flagsRepo,
		lockRepo,
		leadService,
		riskEngine,
		exec,
		side,
		appLogger,
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *once {
		if err := runner.RunPass(ctx); err != nil {
			appLogger.WithError(err).Fatal("Runner pass failed")
		}
		appLogger.Info("Runner pass completed")
		return
	}

	// Daemon mode: relay and triage loops run alongside the pass loop.
	relay := service.NewOutboxRelay(cfg.Outbox, outboxRepo, service.NewHTTPSink(cfg.Outbox), appLogger)
	triage := service.NewTriageWorker(cfg.Triage, cfg.Queue.RecycledPriority, jobRepo, appLogger)
	go relay.Run(ctx)
	go triage.Run(ctx)

	ticker := time.NewTicker(cfg.Runner.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			appLogger.Info("Runner stopped")
			return
		case <-ticker.C:
			if err := runner.RunPass(ctx); err != nil {
				appLogger.WithError(err).Error("Runner pass failed")
			}
		}
	}
}
