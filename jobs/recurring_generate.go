package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tesouraria-igreja/tesouraria/internal/jobs"
)

type occurrenceGenerator interface {
	GenerateOccurrences(ctx context.Context, year, month int) (int, error)
	GenerateCurrent(ctx context.Context) (int, error)
}

// RecurringGenerateJob materialises recurring expense occurrences.
type RecurringGenerateJob struct {
	Generator occurrenceGenerator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRecurringGenerateJob initialises the generator handler.
func NewRecurringGenerateJob(generator occurrenceGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringGenerateJob {
	return &RecurringGenerateJob{Generator: generator, Logger: logger, Metrics: metrics}
}

// Handle generates the requested month, or the current one when the payload is empty.
func (j *RecurringGenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("recurring generate: handler not configured")
	}
	var payload RecurringGeneratePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskRecurringGenerate)
	logger := j.logger()

	var (
		created int
		err     error
	)
	if payload.Year == 0 || payload.Month == 0 {
		created, err = j.Generator.GenerateCurrent(ctx)
	} else {
		logger = logger.With(slog.Int("year", payload.Year), slog.Int("month", payload.Month))
		created, err = j.Generator.GenerateOccurrences(ctx, payload.Year, payload.Month)
	}
	j.metrics().AddGenerated(created)
	if err != nil {
		logger.Error("generate occurrences", slog.Int("created", created), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("generated occurrences", slog.Int("created", created))
	return tracker.End(nil)
}

func (j *RecurringGenerateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecurringGenerate))
	}
	return slog.Default().With(slog.String("job", TaskRecurringGenerate))
}

func (j *RecurringGenerateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
