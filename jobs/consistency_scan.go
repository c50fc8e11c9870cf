package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tesouraria-igreja/tesouraria/internal/consistency"
	jobmetrics "github.com/tesouraria-igreja/tesouraria/internal/jobs"
)

type consistencyRunner interface {
	Run(ctx context.Context, actorID int64) (consistency.Run, error)
}

// ConsistencyScanJob runs the consistency checker from the queue.
type ConsistencyScanJob struct {
	Checker consistencyRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConsistencyScanJob initialises the scan handler.
func NewConsistencyScanJob(checker consistencyRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsistencyScanJob {
	return &ConsistencyScanJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *ConsistencyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("consistency scan: handler not configured")
	}
	var payload ConsistencyScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskConsistencyScan)
	logger := j.logger().With(slog.Int64("actor_id", payload.ActorID))
	logger.Info("starting consistency scan")

	run, err := j.Checker.Run(ctx, payload.ActorID)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddFindings(string(consistency.SeverityCritical), run.Counts.Critical)
	j.metrics().AddFindings(string(consistency.SeverityWarning), run.Counts.Warning)
	j.metrics().AddFindings(string(consistency.SeverityInfo), run.Counts.Info)
	for _, f := range run.Findings {
		if f.Severity == consistency.SeverityCritical {
			logger.Warn("critical inconsistency",
				slog.String("type", string(f.Type)),
				slog.String("entity", f.Entity),
				slog.Int64("entity_id", f.EntityID))
		}
	}
	logger.Info("completed consistency scan",
		slog.Int64("run_id", run.ID),
		slog.Int("findings", run.Counts.Total()),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ConsistencyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsistencyScan))
	}
	return slog.Default().With(slog.String("job", TaskConsistencyScan))
}

func (j *ConsistencyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
