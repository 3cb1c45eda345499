package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/commonwealth-builders/treasury/internal/app"
	jobmetrics "github.com/commonwealth-builders/treasury/internal/jobs"
	"github.com/commonwealth-builders/treasury/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	infra, closeInfra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeInfra()

	services := app.NewServices(cfg, logger, infra)
	metrics := jobmetrics.NewMetrics(infra.Metrics.Registerer())

	noticeJob := jobs.NewPaymentNoticeJob(services.PaymentStore, services.UserStore, jobs.LogMailer{Logger: logger},
		cfg.MailFrom, cfg.MailRatePerSecond, logger, metrics)
	replayJob := jobs.NewAuditReplayJob(services.AuditLog, logger, metrics)
	integrityJob := jobs.NewAuditIntegrityJob(services.Audit, logger, metrics)
	warmupJob := jobs.NewReportsWarmupJob(services.Reports, logger, metrics)

	replayTask, err := jobs.NewAuditReplayTask(500)
	if err != nil {
		logger.Error("build replay task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewAuditIntegrityTask(24 * time.Hour)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportsWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPaymentNotify, Handler: noticeJob.Handle},
			{Type: jobs.TaskAuditReplay, Handler: replayJob.Handle},
			{Type: jobs.TaskAuditIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskReportsWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/10 * * * *", Task: replayTask},
			{Spec: "0 2 * * *", Task: integrityTask},
			{Spec: "15 1 * * *", Task: warmupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: infra.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		stop()
		closeInfra()
		os.Exit(1)
	}
}
