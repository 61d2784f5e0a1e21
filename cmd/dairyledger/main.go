package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/app"
	"github.com/dairyledger/dairyledger/internal/farmer"
	"github.com/dairyledger/dairyledger/internal/farmerledger"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/observability"
	"github.com/dairyledger/dairyledger/internal/platform/cache"
	"github.com/dairyledger/dairyledger/internal/platform/db"
	"github.com/dairyledger/dairyledger/internal/recovery"
	"github.com/dairyledger/dairyledger/internal/shared"
	"github.com/dairyledger/dairyledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, outstanding cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	var (
		outstandingCache *farmerledger.RedisCache
		invalidator      shared.OutstandingInvalidator
	)
	if redisClient != nil {
		outstandingCache = farmerledger.NewRedisCache(redisClient)
		invalidator = outstandingCache
	}

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	advanceService := advance.NewService(advance.NewRepository(dbpool), auditLogger)
	advanceHandler := advance.NewHandler(logger, advanceService)

	loanService := loan.NewService(loan.NewRepository(dbpool), auditLogger)
	loanHandler := loan.NewHandler(logger, loanService)

	recoveryService := recovery.NewService(recovery.NewRepository(dbpool), auditLogger)
	recoveryHandler := recovery.NewHandler(logger, recoveryService)

	if invalidator != nil {
		advanceService.WithInvalidator(invalidator)
		loanService.WithInvalidator(invalidator)
		recoveryService.WithInvalidator(invalidator)
	}

	farmerRepo := farmer.NewRepository(dbpool)
	farmerHandler := farmer.NewHandler(logger, farmerRepo)

	var aggregatorCache farmerledger.CachePort
	if outstandingCache != nil {
		aggregatorCache = outstandingCache
	}
	farmerLedgerService := farmerledger.NewService(farmerledger.NewRepository(dbpool), aggregatorCache)
	farmerLedgerHandler := farmerledger.NewHandler(logger, farmerLedgerService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		LedgerHandler:       ledgerHandler,
		AdvanceHandler:      advanceHandler,
		LoanHandler:         loanHandler,
		RecoveryHandler:     recoveryHandler,
		FarmerHandler:       farmerHandler,
		FarmerLedgerHandler: farmerLedgerHandler,
		JobsHandler:         jobsHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
