package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/consistency"
	jobmetrics "github.com/tesouraria-igreja/tesouraria/internal/jobs"
)

type stubChecker struct {
	actor int64
	run   consistency.Run
	err   error
}

func (s *stubChecker) Run(_ context.Context, actorID int64) (consistency.Run, error) {
	s.actor = actorID
	return s.run, s.err
}

type stubGenerator struct {
	year, month int
	current     bool
	created     int
	err         error
}

func (s *stubGenerator) GenerateOccurrences(_ context.Context, year, month int) (int, error) {
	s.year, s.month = year, month
	return s.created, s.err
}

func (s *stubGenerator) GenerateCurrent(context.Context) (int, error) {
	s.current = true
	return s.created, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsistencyScanJobRecordsFindings(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	checker := &stubChecker{run: consistency.Run{
		ID:     3,
		Counts: consistency.Counts{Critical: 2, Info: 1},
		Findings: []consistency.Finding{
			{Type: consistency.TypeInvalidReference, Severity: consistency.SeverityCritical, Entity: "ledger_entry", EntityID: 1},
			{Type: consistency.TypeTotalsMismatch, Severity: consistency.SeverityCritical, Entity: "period_closing", EntityID: 2},
			{Type: consistency.TypeZeroBalance, Severity: consistency.SeverityInfo, Entity: "period_closing", EntityID: 3},
		},
	}}
	job := NewConsistencyScanJob(checker, quietLogger(), metrics)

	task, err := NewConsistencyScanTask(42)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, int64(42), checker.actor)

	count, err := testutil.GatherAndCount(registry, "tesouraria_consistency_findings_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per reported severity")
}

func TestConsistencyScanJobPropagatesFailure(t *testing.T) {
	checker := &stubChecker{err: errors.New("database down")}
	job := NewConsistencyScanJob(checker, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskConsistencyScan, nil))
	require.Error(t, err)
}

func TestConsistencyScanJobSkipsMalformedPayload(t *testing.T) {
	job := NewConsistencyScanJob(&stubChecker{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskConsistencyScan, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRecurringGenerateJob(t *testing.T) {
	gen := &stubGenerator{created: 4}
	job := NewRecurringGenerateJob(gen, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRecurringGenerate, nil)))
	assert.True(t, gen.current)

	payload, err := json.Marshal(RecurringGeneratePayload{Year: 2025, Month: 3})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRecurringGenerate, payload)))
	assert.Equal(t, 2025, gen.year)
	assert.Equal(t, 3, gen.month)
}
