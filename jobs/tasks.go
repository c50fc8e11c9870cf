package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tesouraria-igreja/tesouraria/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsistencyScan runs the consistency checker and stores the result.
	TaskConsistencyScan = "consistency:scan"
	// TaskRecurringGenerate materialises recurring expense occurrences for a month.
	TaskRecurringGenerate = "recurring:generate"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsistencyScanPayload identifies who asked for a scan. Zero means cron.
type ConsistencyScanPayload struct {
	ActorID int64 `json:"actor_id,omitempty"`
}

// NewConsistencyScanTask builds a scan task. Unique prevents piling up scans
// while one is already queued.
func NewConsistencyScanTask(actorID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ConsistencyScanPayload{ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsistencyScan, data, asynq.Unique(5*time.Minute), asynq.MaxRetry(2)), nil
}

// RecurringGeneratePayload selects the month to generate. Zero values mean
// the current month in the worker clock.
type RecurringGeneratePayload struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

// NewRecurringGenerateTask builds a generation task.
func NewRecurringGenerateTask(year, month int) (*asynq.Task, error) {
	data, err := json.Marshal(RecurringGeneratePayload{Year: year, Month: month})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringGenerate, data), nil
}
