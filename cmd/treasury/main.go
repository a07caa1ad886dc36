package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/treasury/internal/auth"
	"github.com/devrev/treasury/internal/config"
	"github.com/devrev/treasury/internal/derivation"
	"github.com/devrev/treasury/internal/handler"
	"github.com/devrev/treasury/internal/health"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/server"
	"github.com/devrev/treasury/internal/service"
	"github.com/devrev/treasury/internal/storage/diskmanager"
	"github.com/devrev/treasury/internal/validation"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("program_id", cfg.Program.ID),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Server.NodeID, registry)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	disk, err := diskmanager.NewDiskManager(&diskmanager.DiskManagerConfig{
		DataDir:                 cfg.Storage.DataDir,
		CheckInterval:           cfg.Disk.CheckInterval,
		WarningThreshold:        cfg.Disk.WarningThreshold,
		CircuitBreakerThreshold: cfg.Disk.CircuitBreakerThreshold,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize disk manager", zap.Error(err))
	}

	store, err := openStore(ctx, cfg, disk, m, logger)
	if err != nil {
		logger.Fatal("Failed to open account store", zap.Error(err))
	}
	defer store.Close()

	l := ledger.NewLedger(store, m, logger)
	if err := applyGenesis(ctx, cfg, l, logger); err != nil {
		logger.Fatal("Failed to fund genesis accounts", zap.Error(err))
	}

	deriver := derivation.NewDeriver(cfg.ProgramID())
	transfers := service.NewTransferService(deriver, m, logger)
	treasuries := service.NewTreasuryService(l, deriver, transfers, m, logger)

	count, err := treasuries.CountTreasuries(ctx)
	if err != nil {
		logger.Fatal("Failed to read treasuries", zap.Error(err))
	}
	logger.Info("Ledger ready",
		zap.Uint64("sequence", l.Sequence()),
		zap.Int("treasuries", count))

	replay := auth.NewReplayCache(&auth.ReplayCacheConfig{MaxEntries: cfg.Auth.ReplayCacheSize}, logger)
	verifier := auth.NewVerifier(&auth.VerifierConfig{MaxClockSkew: cfg.Auth.MaxClockSkew}, replay, m, logger)

	validator := validation.NewValidator()
	if cfg.Program.MaxAmount > 0 {
		validator = validation.NewValidatorWithLimits(cfg.Program.MaxAmount)
	}

	errorHandler := handler.NewErrorHandler(logger)
	treasuryHandler := handler.NewTreasuryHandler(treasuries, verifier, validator, errorHandler, logger)

	apiServer := server.NewServer(cfg, treasuryHandler, errorHandler, logger)
	apiServer.SetupRoutes()

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:   cfg.Server.NodeID,
		DataDir:  cfg.Storage.DataDir,
		Interval: cfg.Server.HealthCheckInterval,
	}, disk, m, logger)
	checker.AddProbe("ledger_store", func(ctx context.Context) error {
		_, err := l.Account(ctx, solana.SystemProgramID)
		return err
	})
	go checker.Start(ctx)

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port:            cfg.Metrics.Port,
			Path:            cfg.Metrics.Path,
			CollectInterval: cfg.Metrics.CollectInterval,
		}, registry, checker, func(ctx context.Context) error {
			_, err := treasuries.CountTreasuries(ctx)
			return err
		}, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	var grpcServer *server.GRPCHealthServer
	if cfg.GRPC.Enabled {
		grpcServer = server.NewGRPCHealthServer(cfg.Server.Host, cfg.GRPC.Port,
			cfg.Server.HealthCheckInterval, checker, logger)
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("Failed to start gRPC health server", zap.Error(err))
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start()
	}()

	logger.Info("Treasury node started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("program_id", deriver.ProgramID().String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}

	checker.SetReadiness(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down API server", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}

	cancel()
	logger.Info("Treasury node stopped", zap.Uint64("sequence", l.Sequence()))
}

// openStore opens the configured account store and replays its history
func openStore(
	ctx context.Context,
	cfg *config.Config,
	disk *diskmanager.DiskManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) (ledger.AccountStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return ledger.NewSQLiteStore(ctx, cfg.Storage.SQLitePath, logger)
	default:
		commitLog, err := ledger.NewCommitLog(&ledger.CommitLogConfig{
			SegmentSize: cfg.CommitLog.SegmentSize,
			SyncWrites:  cfg.CommitLog.SyncWrites,
		}, cfg.Storage.CommitLogDir, disk, m, logger)
		if err != nil {
			return nil, err
		}

		store := ledger.NewMemoryStore(commitLog, logger)
		replayed, err := store.Recover(ctx)
		if err != nil {
			commitLog.Close()
			return nil, fmt.Errorf("commit log recovery failed: %w", err)
		}
		logger.Info("Commit log recovered", zap.Int("entries", replayed))
		return store, nil
	}
}

// applyGenesis funds the configured accounts in a single transaction on a
// ledger that has never committed one
func applyGenesis(ctx context.Context, cfg *config.Config, l *ledger.Ledger, logger *zap.Logger) error {
	if l.Sequence() != 0 || len(cfg.Genesis.Accounts) == 0 {
		return nil
	}

	allocations := make([]ledger.Allocation, 0, len(cfg.Genesis.Accounts))
	for _, acct := range cfg.Genesis.Accounts {
		allocations = append(allocations, ledger.Allocation{
			Address:  solana.MustPublicKeyFromBase58(acct.Address),
			Lamports: acct.Lamports,
		})
	}

	receipt, err := l.FundAll(ctx, "genesis", allocations)
	if err != nil {
		return err
	}
	logger.Info("Funded genesis accounts",
		zap.Int("accounts", len(allocations)),
		zap.Uint64("sequence", receipt.Sequence))
	return nil
}

// initLogger builds the zap logger from the logging section
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
