// Command server runs the batch shipping orchestrator HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/shipagent/internal/adapter/carrier"
	"github.com/fairyhunter13/shipagent/internal/adapter/datagateway"
	"github.com/fairyhunter13/shipagent/internal/adapter/httpserver"
	"github.com/fairyhunter13/shipagent/internal/adapter/repo/sqlstore"
	"github.com/fairyhunter13/shipagent/internal/adapter/writebackqueue"
	"github.com/fairyhunter13/shipagent/internal/app"
	"github.com/fairyhunter13/shipagent/internal/config"
	"github.com/fairyhunter13/shipagent/internal/engine"
	"github.com/fairyhunter13/shipagent/internal/observability"
	"github.com/fairyhunter13/shipagent/internal/orchestrator"
	"github.com/fairyhunter13/shipagent/internal/progresshub"
	"github.com/fairyhunter13/shipagent/internal/recovery"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("op=main.loadConfig", slog.Any("error", err))
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.AppEnv)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.NewTracerProvider(ctx, "shipagent", "0.1.0")
	if err != nil {
		log.Error("op=main.tracerProvider", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	pool, err := sqlstore.NewPool(ctx, cfg.DBURL)
	if err != nil {
		log.Error("op=main.pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.MigrateOnStartup {
		if err := sqlstore.Migrate(ctx, pool); err != nil {
			log.Error("op=main.migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	jobRepo := sqlstore.NewJobRepo(pool, log)
	rowRepo := sqlstore.NewRowRepo(pool, log)
	writeBackRepo := sqlstore.NewWriteBackRepo(pool)
	auditRepo := sqlstore.NewAuditRepo(pool)
	decisionRepo := sqlstore.NewDecisionRepo(pool)

	carrierClient := carrier.New(carrier.Config{
		BaseURL: cfg.CarrierBaseURL, ClientID: cfg.CarrierClientID, ClientSecret: cfg.CarrierClientSecret,
		AccountNumber: cfg.CarrierAccountNumber, Timeout: cfg.CarrierTimeout, MaxRetries: cfg.CarrierMaxRetries,
	}, log)

	gateway := datagateway.Instance(log)

	progressHub := progresshub.New(cfg.ProgressQueueCapacity, cfg.ProgressKeepAlive, log, metrics)

	batchEngine := engine.New(jobRepo, rowRepo, writeBackRepo, auditRepo, carrierClient, progressHub, log, metrics)

	recoveryCoordinator := recovery.New(jobRepo, rowRepo, auditRepo, carrierClient, log, cfg.RecoveryLookupRetries, cfg.RecoveryWallClockCap)
	if reports, err := recoveryCoordinator.Reconcile(ctx); err != nil {
		log.Error("op=main.reconcile", slog.Any("error", err))
	} else {
		for _, rep := range reports {
			log.Info("op=main.reconcile.job", slog.String("job_id", rep.JobID), slog.Int("in_flight", rep.InFlightRows), slog.Int("resolved", rep.ResolvedOK), slog.Int("needs_review", rep.NeedsReview))
		}
	}

	orch := orchestrator.New(jobRepo, rowRepo, gateway, carrierClient, batchEngine, cfg, log)
	orch.SetDecisionStore(decisionRepo)

	wbWorker := writebackqueue.New(writeBackRepo, gateway, log, metrics, cfg.WriteBackPollInterval, cfg.WriteBackMaxRetries)
	go wbWorker.Run(ctx)

	handlers := httpserver.New(jobRepo, rowRepo, writeBackRepo, auditRepo, gateway, orch, progressHub, recoveryCoordinator, registry, cfg, log)
	router := app.BuildRouter(handlers, cfg)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		log.Info("op=main.listen", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("op=main.listenAndServe", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("op=main.shutdown.start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("op=main.shutdown", slog.Any("error", err))
	}
	log.Info("op=main.shutdown.complete")
}
