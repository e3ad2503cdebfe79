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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/audit"
	"github.com/hedgeco/opskernel/internal/infra"
	"github.com/hedgeco/opskernel/internal/infra/auth"
	"github.com/hedgeco/opskernel/internal/policy"
	"github.com/hedgeco/opskernel/internal/queue"
	"github.com/hedgeco/opskernel/internal/queue/memq"
	"github.com/hedgeco/opskernel/internal/queue/redisq"
	"github.com/hedgeco/opskernel/internal/repository/postgres"
	"github.com/hedgeco/opskernel/internal/safesend"
	"github.com/hedgeco/opskernel/internal/server"
)

func main() {
	// 1. Configuration and logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := buildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// 2. Infrastructure: Redis (queue backend + rate windows), Postgres
	// (audit trail). Without a Postgres URL the kernel runs on the
	// in-memory audit store; without Redis reachable it still starts, the
	// health probe reports it.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var auditStore audit.Store
	if cfg.Postgres.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Fatal("audit repo", zap.Error(err))
		}
		defer repo.Close() //nolint:errcheck
		auditStore = repo
	} else {
		logger.Warn("no postgres.url configured, audit trail is in-memory only")
		auditStore = audit.NewMemoStore()
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	metrics := server.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 4. Audit recorder (batched async writer, drained on shutdown)
	recorder := audit.NewRecorder(auditStore, cfg.Engine.AuditBufferSize, logger,
		audit.WithBatch(cfg.Engine.AuditBatchSize, cfg.Engine.AuditFlushInterval),
		audit.WithFillGauge(metrics.AuditBufferFill),
	)
	recorder.Start()
	defer recorder.Stop()

	// 5. Queue backend behind the reliability wrapper
	queueNames := make([]string, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		queueNames = append(queueNames, q.Name)
	}
	var backend admission.Backend
	if os.Getenv("QUEUE_BACKEND") == "memory" {
		logger.Warn("QUEUE_BACKEND=memory, jobs are not durable")
		backend = memq.NewMemoBackend(queueNames)
	} else {
		backend = redisq.NewBackend(rdb, queueNames, cfg.Engine.PingTimeout, logger)
	}
	safeBackend := queue.NewReliabilityWrapper(backend, cfg.Engine)
	jobs := admission.NewService(safeBackend, cfg.Queues, logger)

	// 6. Policy evaluator: explicit ordered rule list
	rules := []policy.Rule{
		policy.NewHighRiskRule(cfg.Policy.HighRiskActions),
		policy.NewDenylistRule(),
		policy.NewSensitivityRule(
			policy.NewHeuristicEntityStates(cfg.Policy.SensitiveStates),
			cfg.Policy.SensitiveStates,
			logger,
		),
		policy.NewRateCeilingRule(cfg.Policy.RateCeilings, infra.NewRedisRateWindow(rdb), logger),
	}
	policyEval := policy.NewEvaluator(rules, logger)

	// 7. Safe-send gate
	safeSendEval := safesend.NewEvaluator(cfg.SafeSend, logger)

	// 8. Boundary
	keys, err := auth.NewKeyTable(cfg.Auth.Keys, cfg.Roles)
	if err != nil {
		logger.Fatal("key table", zap.Error(err))
	}
	signer := server.NewCompletionSigner(cfg.Auth.CompletionSecret, cfg.Auth.CompletionTTL)
	kernel := server.NewKernel(policyEval, safeSendEval, recorder, jobs, signer, metrics, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewServer(cfg, kernel, keys, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("operations kernel started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("operations kernel stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("operations kernel exited")
}

func buildLogger(cfg infra.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
