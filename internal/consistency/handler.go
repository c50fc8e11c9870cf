package consistency

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

// Enqueuer schedules a background scan.
type Enqueuer interface {
	EnqueueConsistencyScan(ctx context.Context, actorID int64) error
}

type checker interface {
	Run(ctx context.Context, actorID int64) (Run, error)
	Latest(ctx context.Context) (Run, error)
}

// Handler serves the consistency page.
type Handler struct {
	logger    *slog.Logger
	checker   checker
	queue     Enqueuer
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler constructs a Handler. A nil queue runs scans inline.
func NewHandler(logger *slog.Logger, checker checker, queue Enqueuer, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, checker: checker, queue: queue, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers consistency routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consistency", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.CapConsistencyView)).Get("/", h.show)
		r.With(h.rbac.RequireAll(shared.CapConsistencyRun)).Post("/run", h.run)
	})
}

type pageData struct {
	Run      *Run
	Findings []findingView
}

type findingView struct {
	Finding
	TypeLabel string
	Badge     badgeView
}

type badgeView struct {
	Label string
	Kind  string
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	var data pageData
	run, err := h.checker.Latest(r.Context())
	switch {
	case errors.Is(err, ErrNoRuns):
	case err != nil:
		h.logger.Error("latest consistency run", slog.Any("error", err))
		h.render(w, r, "pages/error.html", "Erro", httpx.UserMessage(err), httpx.StatusFor(err))
		return
	default:
		data.Run = &run
		for _, f := range run.Findings {
			data.Findings = append(data.Findings, findingView{
				Finding:   f,
				TypeLabel: f.Type.Label(),
				Badge:     badgeView{Label: f.Severity.Label(), Kind: badgeKind(f.Severity)},
			})
		}
	}
	h.render(w, r, "pages/consistency/index.html", "Consistência", data, http.StatusOK)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorID(r.Context())
	if h.queue != nil {
		if err := h.queue.EnqueueConsistencyScan(r.Context(), actor); err != nil {
			h.logger.Error("enqueue consistency scan", slog.Any("error", err))
			h.redirectWithFlash(w, r, "danger", "Não foi possível agendar a verificação. Tente novamente.")
			return
		}
		h.redirectWithFlash(w, r, "info", "Verificação agendada. Atualize a página em alguns instantes.")
		return
	}
	run, err := h.checker.Run(r.Context(), actor)
	if err != nil {
		h.logger.Error("consistency scan", slog.Any("error", err))
		h.redirectWithFlash(w, r, "danger", httpx.UserMessage(err))
		return
	}
	if run.Counts.Total() == 0 {
		h.redirectWithFlash(w, r, "success", "Nenhuma inconsistência encontrada.")
		return
	}
	h.redirectWithFlash(w, r, "warning", "Verificação concluída com apontamentos.")
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, title, data)
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, "/consistency", http.StatusSeeOther)
}

func badgeKind(s Severity) string {
	switch s {
	case SeverityCritical:
		return "danger"
	case SeverityWarning:
		return "warning"
	}
	return "info"
}
