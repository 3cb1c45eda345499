package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/commonwealth-builders/treasury/internal/audit"
	jobmetrics "github.com/commonwealth-builders/treasury/internal/jobs"
)

const defaultIntegrityWindow = 24 * time.Hour

// ErrUnknownTask is returned for task types that cannot be built by name.
var ErrUnknownTask = errors.New("jobs: unknown task type")

// Replayer drains the dropped audit entry spool.
type Replayer interface {
	Replay(ctx context.Context, limit int) (audit.ReplayStats, error)
}

// AuditReplayJob re-inserts spooled audit entries.
type AuditReplayJob struct {
	Audit   Replayer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditReplayJob wires the replay handler.
func NewAuditReplayJob(replayer Replayer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditReplayJob {
	return &AuditReplayJob{Audit: replayer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditReplay tasks.
func (j *AuditReplayJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit replay: handler not configured")
	}
	var payload AuditReplayPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	metrics := jobMetrics(j.Metrics)
	tracker := metrics.Track(TaskAuditReplay)
	defer func() { resultErr = tracker.End(resultErr) }()

	stats, err := j.Audit.Replay(ctx, payload.Limit)
	metrics.AddItems(TaskAuditReplay, "inserted", stats.Inserted)
	metrics.AddItems(TaskAuditReplay, "duplicate", stats.Duplicates)
	metrics.AddItems(TaskAuditReplay, "requeued", stats.Requeued)
	logger := jobLogger(j.Logger, TaskAuditReplay)
	if err != nil {
		logger.Error("replay audit spool", slog.Any("stats", stats), slog.Any("error", err))
		return err
	}
	logger.Info("audit spool drained",
		slog.Int("inserted", stats.Inserted),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("requeued", stats.Requeued))
	return nil
}

// IntegrityChecker finds state transitions without audit entries.
type IntegrityChecker interface {
	Integrity(ctx context.Context, from, to time.Time) ([]audit.Gap, error)
}

// AuditIntegrityJob reports audit gaps. A run that finds gaps fails without
// retry so it shows up in the job failure metrics.
type AuditIntegrityJob struct {
	Audit   IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditIntegrityJob wires the integrity handler.
func NewAuditIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditIntegrityJob {
	return &AuditIntegrityJob{
		Audit:   checker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskAuditIntegrity tasks.
func (j *AuditIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit integrity: handler not configured")
	}
	payload := AuditIntegrityPayload{WindowHours: int(defaultIntegrityWindow.Hours())}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = int(defaultIntegrityWindow.Hours())
	}
	metrics := jobMetrics(j.Metrics)
	tracker := metrics.Track(TaskAuditIntegrity)
	defer func() { resultErr = tracker.End(resultErr) }()

	to := j.now()
	from := to.Add(-time.Duration(payload.WindowHours) * time.Hour)
	logger := jobLogger(j.Logger, TaskAuditIntegrity).With(slog.Time("from", from), slog.Time("to", to))
	gaps, err := j.Audit.Integrity(ctx, from, to)
	if err != nil {
		logger.Error("audit integrity check", slog.Any("error", err))
		return err
	}
	if len(gaps) == 0 {
		logger.Info("audit trail complete")
		return nil
	}
	var missing int64
	for _, gap := range gaps {
		missing += gap.Missing
		logger.Warn("audit entries missing",
			slog.String("action", string(gap.Action)),
			slog.Int64("transitions", gap.Transitions),
			slog.Int64("entries", gap.Entries),
			slog.Int64("missing", gap.Missing))
	}
	metrics.AddItems(TaskAuditIntegrity, "missing", int(missing))
	return fmt.Errorf("audit integrity: %d entries missing across %d actions: %w", missing, len(gaps), asynq.SkipRetry)
}

func (j *AuditIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
