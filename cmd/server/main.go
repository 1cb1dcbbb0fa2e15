package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoplink/payment-orchestrator/internal/adapters/iyzico"
	"github.com/shoplink/payment-orchestrator/internal/adapters/memory"
	"github.com/shoplink/payment-orchestrator/internal/adapters/postgres"
	"github.com/shoplink/payment-orchestrator/internal/config"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	adminhandler "github.com/shoplink/payment-orchestrator/internal/handlers/admin"
	paymenthandler "github.com/shoplink/payment-orchestrator/internal/handlers/payment"
	"github.com/shoplink/payment-orchestrator/internal/services/audit"
	"github.com/shoplink/payment-orchestrator/internal/services/callback"
	"github.com/shoplink/payment-orchestrator/internal/services/checkout"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/internal/services/refund"
	"github.com/shoplink/payment-orchestrator/internal/services/status"
	"github.com/shoplink/payment-orchestrator/internal/services/threeds"
	"github.com/shoplink/payment-orchestrator/pkg/logging"
	"github.com/shoplink/payment-orchestrator/pkg/middleware"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		zap.NewExample().Fatal("configuration error", zap.Error(err))
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("starting payment orchestrator",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Database.Storage),
		zap.String("gateway_env", cfg.Gateway.Environment),
	)

	// Storage
	var (
		txnRepo    ports.TransactionRepository
		refundRepo ports.RefundRepository
		auditRepo  ports.AuditRepository
		pool       *pgxpool.Pool
	)
	healthChecker := observability.NewHealthChecker()

	if cfg.Database.Storage == config.StoragePostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err = postgres.Connect(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConns)
		cancel()
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()

		txnRepo = postgres.NewTransactionRepository(pool)
		refundRepo = postgres.NewRefundRepository(pool)
		auditRepo = postgres.NewAuditRepository(pool)
		healthChecker.RegisterCheck("database", pool)
	} else {
		logger.Warn("using in-memory storage, all state is lost on restart")
		txnRepo = memory.NewTransactionRepository()
		refundRepo = memory.NewRefundRepository()
		auditRepo = memory.NewAuditRepository()
	}

	portLogger := logging.NewZapLogger(logger)

	// Gateway adapter
	gatewayCfg := iyzico.DefaultConfig(cfg.Gateway.Environment)
	if cfg.Gateway.BaseURL != "" {
		gatewayCfg.BaseURL = cfg.Gateway.BaseURL
	}
	gatewayCfg.APIKey = cfg.Gateway.APIKey
	gatewayCfg.SecretKey = cfg.Gateway.SecretKey
	gatewayCfg.Timeout = cfg.Gateway.Timeout
	gateway := iyzico.NewGatewayAdapter(gatewayCfg, logger)

	timeouts := resilience.DefaultTimeoutConfig()
	if cfg.Gateway.Timeout > 0 {
		timeouts.Gateway = cfg.Gateway.Timeout
	}

	// Services
	auditSvc := audit.NewService(auditRepo, cfg.Payments.AuditRingSize, portLogger)
	defer auditSvc.Close()

	ledgerSvc := ledger.NewService(txnRepo, auditSvc, portLogger)

	threedsSvc := threeds.NewService(threeds.Config{
		JanitorInterval: cfg.Payments.SessionSweepInterval,
		Timeouts:        timeouts,
	}, ledgerSvc, gateway, auditSvc, portLogger)
	defer threedsSvc.Close()

	callbackSvc := callback.NewService(ledgerSvc, gateway, threedsSvc, auditSvc, portLogger)

	statusSvc := status.NewService(status.Config{
		StaleAfter:      cfg.Payments.StaleAfter,
		RequeryInterval: cfg.Payments.RequeryInterval,
		Timeouts:        timeouts,
	}, ledgerSvc, gateway, auditSvc, portLogger)
	defer statusSvc.Close()

	refundSvc := refund.NewService(ledgerSvc, refundRepo, gateway, auditSvc, portLogger, timeouts)

	checkoutSvc := checkout.NewService(checkout.Config{
		CallbackURL:  cfg.Gateway.CallbackURL,
		ChallengeTTL: cfg.Payments.ChallengeTTL,
		Timeouts:     timeouts,
	}, ledgerSvc, threedsSvc, gateway, auditSvc, portLogger)

	// HTTP surface
	mux := http.NewServeMux()
	paymenthandler.NewHandler(checkoutSvc, statusSvc, refundSvc, callbackSvc, logger).Register(mux)
	adminhandler.NewHandler(ledgerSvc, auditSvc, threedsSvc, gateway, cfg.Admin.Secret, logger).Register(mux)

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	defer rateLimiter.Shutdown()

	handler := rateLimiter.Middleware(observability.InstrumentHandler("api", mux))

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeouts.HTTPHandler + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)

	go func() {
		logger.Info("payment server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// initLogger initializes the logger
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	if cfg.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}
