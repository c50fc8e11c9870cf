package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/observability"
	"github.com/tesouraria-igreja/tesouraria/internal/reports"
)

type fakeDoc string

func (d fakeDoc) Template() string { return string(d) }

type fakeRenderer struct{ err error }

func (f fakeRenderer) Render(context.Context, reports.Document) ([]byte, error) {
	return []byte("%PDF"), f.err
}

func TestMeterRendererCountsOutcomes(t *testing.T) {
	metrics := observability.NewMetrics()
	ok := MeterRenderer(fakeRenderer{}, metrics)
	failing := MeterRenderer(fakeRenderer{err: errors.New("down")}, metrics)

	out, err := ok.Render(context.Background(), fakeDoc("reports/closing_statement"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), out)
	_, err = failing.Render(context.Background(), fakeDoc("reports/closing_statement"))
	require.Error(t, err)

	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	assert.Contains(t, body, `tesouraria_pdf_renders_total{kind="reports/closing_statement",status="success"} 1`)
	assert.Contains(t, body, `tesouraria_pdf_renders_total{kind="reports/closing_statement",status="failure"} 1`)
}

func TestMeterRendererWithoutMetricsIsPassthrough(t *testing.T) {
	r := fakeRenderer{}
	assert.Equal(t, reports.Renderer(r), MeterRenderer(r, nil))
}
