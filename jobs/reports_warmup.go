package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/commonwealth-builders/treasury/internal/jobs"
)

// ReportWarmer precomputes cached reports.
type ReportWarmer interface {
	Warm(ctx context.Context) error
}

// ReportsWarmupJob fills the report cache ahead of the working day.
type ReportsWarmupJob struct {
	Reports ReportWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReportsWarmupJob wires dependencies for the warmup handler.
func NewReportsWarmupJob(reports ReportWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportsWarmupJob {
	return &ReportsWarmupJob{Reports: reports, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReportsWarmup tasks.
func (j *ReportsWarmupJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("reports warmup: handler not configured")
	}
	tracker := jobMetrics(j.Metrics).Track(TaskReportsWarmup)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := jobLogger(j.Logger, TaskReportsWarmup)
	start := time.Now()
	warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := j.Reports.Warm(warmCtx); err != nil {
		logger.Error("warm reports", slog.Any("error", err))
		return err
	}
	logger.Info("completed reports warmup", slog.Duration("duration", time.Since(start)))
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func jobMetrics(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
