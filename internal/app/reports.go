package app

import (
	"context"

	"github.com/tesouraria-igreja/tesouraria/internal/observability"
	"github.com/tesouraria-igreja/tesouraria/internal/reports"
)

type meteredRenderer struct {
	next    reports.Renderer
	metrics *observability.Metrics
}

// MeterRenderer counts every render by template and outcome.
func MeterRenderer(next reports.Renderer, metrics *observability.Metrics) reports.Renderer {
	if metrics == nil {
		return next
	}
	return meteredRenderer{next: next, metrics: metrics}
}

func (m meteredRenderer) Render(ctx context.Context, doc reports.Document) ([]byte, error) {
	out, err := m.next.Render(ctx, doc)
	m.metrics.PDFRendered(doc.Template(), err)
	return out, err
}
