package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/jobs"
)

func TestTaskForRecurringMonth(t *testing.T) {
	task, err := TaskFor(jobs.TaskRecurringGenerate, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskRecurringGenerate, task.Type())

	var payload jobs.RecurringGeneratePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobs.RecurringGeneratePayload{Year: 2024, Month: 3}, payload)
}

func TestTaskForCurrentMonthHasEmptyPayload(t *testing.T) {
	task, err := TaskFor(jobs.TaskRecurringGenerate, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(task.Payload()))
}

func TestTaskForConsistencyScan(t *testing.T) {
	task, err := TaskFor(jobs.TaskConsistencyScan, "")
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskConsistencyScan, task.Type())
}

func TestTaskForRejectsUnknownJobsAndMonths(t *testing.T) {
	_, err := TaskFor("ledger:purge", "")
	assert.Error(t, err)
	_, err = TaskFor(jobs.TaskRecurringGenerate, "03/2024")
	assert.Error(t, err)
}
