package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expedio-erp/expedio/internal/app"
	"github.com/expedio-erp/expedio/internal/audit"
	"github.com/expedio-erp/expedio/internal/auth"
	"github.com/expedio-erp/expedio/internal/closing"
	"github.com/expedio-erp/expedio/internal/ledger"
	"github.com/expedio-erp/expedio/internal/observability"
	"github.com/expedio-erp/expedio/internal/platform/cache"
	"github.com/expedio-erp/expedio/internal/policy"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/reports"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "expedio_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	policySource := policy.NewSource(dbpool)
	metrics := observability.NewMetrics()

	salesRepo := sales.NewRepository(dbpool)
	salesHandler := sales.NewHandler(logger, salesRepo, rbacMiddleware)

	ledgerRepo := ledger.NewPGRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, salesRepo, policySource, auditLogger, metrics, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, rbacMiddleware)

	reportsRepo := reports.NewPGRepository(dbpool)
	reportsCache := reports.NewCache(redisClient, cfg.SummaryCacheTTL)
	reportsService := reports.NewService(reportsRepo, reportsCache, logger)
	reportsHandler := reports.NewHandler(logger, reportsService, rbacMiddleware)

	auditRepo := audit.NewRepository(dbpool)
	auditHandler := audit.NewHandler(logger, auditRepo, rbacMiddleware)

	closingRepo := closing.NewPGRepository(dbpool)
	closingService := closing.NewService(closingRepo, salesRepo, policySource, auditLogger, metrics, reportsService, logger)
	closingHandler := closing.NewHandler(logger, closingService, rbacMiddleware, idempotencyStore)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		RBACMiddleware: rbacMiddleware,
		AuthHandler:    authHandler,
		SalesHandler:   salesHandler,
		LedgerHandler:  ledgerHandler,
		ClosingHandler: closingHandler,
		ReportsHandler: reportsHandler,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
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
