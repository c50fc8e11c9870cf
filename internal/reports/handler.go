package reports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

type pdfService interface {
	ClosingPDF(ctx context.Context, actorID, id int64) ([]byte, error)
	LedgerPDF(ctx context.Context, actorID, costCenterID int64, from, to time.Time) ([]byte, error)
}

type costCenterLister interface {
	List(ctx context.Context) ([]costcenters.CostCenter, error)
}

type accessResolver interface {
	Access(ctx context.Context, userID int64) (rbac.Access, error)
}

// Pinger checks the PDF backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves report pages and PDF downloads.
type Handler struct {
	logger      *slog.Logger
	service     pdfService
	costCenters costCenterLister
	access      accessResolver
	pinger      Pinger
	templates   *view.Engine
	csrf        *shared.CSRFManager
	rbac        rbac.Middleware
	clock       shared.Clock
}

// HandlerDeps groups the collaborators of Handler.
type HandlerDeps struct {
	Logger      *slog.Logger
	Service     pdfService
	CostCenters costCenterLister
	Access      accessResolver
	Pinger      Pinger
	Templates   *view.Engine
	CSRF        *shared.CSRFManager
	RBAC        rbac.Middleware
	Clock       shared.Clock
}

// NewHandler constructs a Handler.
func NewHandler(deps HandlerDeps) *Handler {
	clock := deps.Clock
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Handler{
		logger:      deps.Logger,
		service:     deps.Service,
		costCenters: deps.CostCenters,
		access:      deps.Access,
		pinger:      deps.Pinger,
		templates:   deps.Templates,
		csrf:        deps.CSRF,
		rbac:        deps.RBAC,
		clock:       clock,
	}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapReportsView))
		r.Get("/", h.index)
		r.Get("/closings/{id}.pdf", h.closingPDF)
		r.Get("/ledger.pdf", h.ledgerPDF)
		r.Get("/health", h.health)
	})
}

type indexData struct {
	CostCenters []costcenters.CostCenter
	From        string
	To          string
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	access, err := h.access.Access(r.Context(), shared.ActorID(r.Context()))
	if err != nil {
		h.renderError(w, r, "report access", err)
		return
	}
	all, err := h.costCenters.List(r.Context())
	if err != nil {
		h.renderError(w, r, "list cost centers", err)
		return
	}
	var visible []costcenters.CostCenter
	for _, cc := range all {
		if cc.DeletedAt == nil && access.CanAccessCostCenter(cc.ID) {
			visible = append(visible, cc)
		}
	}
	now := h.clock.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	data := indexData{
		CostCenters: visible,
		From:        first.Format("2006-01-02"),
		To:          first.AddDate(0, 1, -1).Format("2006-01-02"),
	}
	h.render(w, r, "pages/reports/index.html", "Relatórios", data, http.StatusOK)
}

func (h *Handler) closingPDF(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Identificador inválido", "")
		return
	}
	pdf, err := h.service.ClosingPDF(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.fail(w, "closing statement pdf", err)
		return
	}
	writePDF(w, fmt.Sprintf("fechamento-%d.pdf", id), pdf)
}

func (h *Handler) ledgerPDF(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.clock.Now().Location()
	var errs shared.ValidationErrors
	ccID, err := strconv.ParseInt(q.Get("cost_center_id"), 10, 64)
	if err != nil || ccID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	from, err := httpx.ParseDate(q.Get("from"), loc)
	if err != nil {
		errs.Add("from", "data inválida")
	}
	to, err := httpx.ParseDate(q.Get("to"), loc)
	if err != nil {
		errs.Add("to", "data inválida")
	}
	if err := errs.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, err := h.service.LedgerPDF(r.Context(), shared.ActorID(r.Context()), ccID, from, to)
	if err != nil {
		h.fail(w, "ledger statement pdf", err)
		return
	}
	writePDF(w, fmt.Sprintf("extrato-%d-%s-%s.pdf", ccID, from.Format("20060102"), to.Format("20060102")), pdf)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Gerador de PDF não configurado", "")
		return
	}
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Gerador de PDF indisponível", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writePDF(w http.ResponseWriter, filename string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename="+filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Não foi possível gerar o relatório", "")
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	h.render(w, r, "pages/error.html", "Erro", httpx.UserMessage(err), httpx.StatusFor(err))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, title, data)
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
