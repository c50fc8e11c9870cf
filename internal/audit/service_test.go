package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows      []TimelineRow
	lastQuery Query
}

func (s *stubTimelineRepo) Timeline(_ context.Context, q Query) ([]TimelineRow, error) {
	s.lastQuery = q
	if q.Limit > 0 && q.Limit < len(s.rows) {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func row(at string, action, entity, id string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, ActorID: 1, ActorName: "Ana Tesoureira", Action: action, Entity: entity, EntityID: id}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		row("2024-03-10T10:00:00Z", "closing.approve", "period_closing", "1"),
		row("2024-03-09T09:00:00Z", "entry.update", "ledger_entry", "2"),
		row("2024-03-08T08:00:00Z", "entry.create", "ledger_entry", "3"),
	}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, repo.lastQuery.Limit)
	assert.Equal(t, 0, repo.lastQuery.Offset)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), repo.lastQuery.To)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500, Action: " closing. "})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize+1, repo.lastQuery.Limit)
	assert.Equal(t, 2*maxPageSize, repo.lastQuery.Offset)
	assert.Equal(t, "closing.", repo.lastQuery.Action)
}

func TestWriteCSV(t *testing.T) {
	r := row("2024-03-10T10:00:00Z", "closing.reject", "period_closing", "9")
	r.Details = map[string]any{"reason": "faltam comprovantes"}
	system := row("2024-03-11T03:00:00Z", "consistency.run", "consistency_run", "4")
	system.ActorID, system.ActorName = 0, ""

	out, err := WriteCSV([]TimelineRow{r, system})
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Ana Tesoureira", records[1][1])
	assert.Contains(t, records[1][5], "faltam comprovantes")
	assert.Equal(t, "sistema", records[2][1])
}
