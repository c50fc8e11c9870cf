package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

type monthTotals interface {
	List(ctx context.Context, actorID int64, filter ledger.Filter) ([]ledger.Entry, ledger.Totals, shared.Pagination, error)
}

type pendingClosings interface {
	List(ctx context.Context, actorID int64, filter closing.ListFilter) ([]closing.Closing, error)
}

type dashboardCard struct {
	Label string
	Value decimal.Decimal
}

type dashboard struct {
	Cards           []dashboardCard
	PendingClosings []closing.Closing
}

// homeHandler renders the dashboard: month totals across the visible cost
// centers and closings waiting for approval.
type homeHandler struct {
	logger    *slog.Logger
	entries   monthTotals
	closings  pendingClosings
	templates *view.Engine
	csrf      *shared.CSRFManager
	clock     shared.Clock
}

func (h homeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := shared.ActorID(ctx)
	now := h.clock.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 1, -1)

	var data dashboard
	if h.entries != nil {
		_, totals, _, err := h.entries.List(ctx, actorID, ledger.Filter{From: from, To: to, Page: 1, PerPage: 1})
		if err != nil {
			h.logger.Warn("dashboard totals", slog.Any("error", err))
		} else {
			data.Cards = []dashboardCard{
				{Label: "Entradas do mês", Value: totals.Income},
				{Label: "Saídas do mês", Value: totals.Expense},
				{Label: "Saldo do mês", Value: totals.Balance()},
			}
		}
	}
	if h.closings != nil {
		pending, err := h.closings.List(ctx, actorID, closing.ListFilter{Status: closing.StatusPending})
		if err != nil {
			h.logger.Warn("dashboard closings", slog.Any("error", err))
		}
		data.PendingClosings = pending
	}

	if err := h.templates.Render(w, "pages/home.html", view.NewTemplateData(r, h.csrf, "Início", data)); err != nil {
		h.logger.Error("render home", slog.Any("error", err))
	}
}
