package closinghttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

type closingService interface {
	Open(ctx context.Context, in closing.OpenInput) (closing.Closing, error)
	Recompute(ctx context.Context, id, actorID int64) (closing.Closing, error)
	Submit(ctx context.Context, id, actorID int64) (closing.Closing, error)
	Approve(ctx context.Context, id, actorID int64) (closing.Closing, error)
	Reject(ctx context.Context, id, actorID int64, reason string) (closing.Closing, error)
	ProcessByHeadquarters(ctx context.Context, hqID int64, closingIDs []int64, actorID int64) (closing.Closing, error)
	Reopen(ctx context.Context, id, actorID int64, reason string) (closing.Closing, error)
	Get(ctx context.Context, id, actorID int64) (closing.Closing, error)
	List(ctx context.Context, actorID int64, filter closing.ListFilter) ([]closing.Closing, error)
	Details(ctx context.Context, id, actorID int64) ([]closing.Detail, error)
	Items(ctx context.Context, id, actorID int64) ([]apportionment.Item, error)
	SelectableForHeadquarters(ctx context.Context, hqID, actorID int64) ([]closing.Closing, error)
}

type costCenterSource interface {
	List(ctx context.Context) ([]costcenters.CostCenter, error)
}

// Handler wires the closing workflow pages.
type Handler struct {
	logger      *slog.Logger
	service     closingService
	costCenters costCenterSource
	templates   *view.Engine
	csrf        *shared.CSRFManager
	rbac        rbac.Middleware
	location    *time.Location
}

type listPageData struct {
	Filter      listFilterView
	YearError   string
	Closings    []closingRow
	CostCenters []costcenters.CostCenter
	Statuses    []statusOption
}

type listFilterView struct {
	CostCenterID int64
	Status       string
	Year         string
}

type closingRow struct {
	Closing     closing.Closing
	StatusBadge badgeView
	URL         string
}

type showPageData struct {
	Closing     closing.Closing
	StatusBadge badgeView
	Details     []closing.Detail
	Items       []apportionment.Item
	Selectable  []closingRow
	Recompute   actionState
	Submit      actionState
	Approve     actionState
	Reject      actionState
	Process     actionState
	Reopen      actionState
	ReportURL   string
}

type openPageData struct {
	Form        openForm
	Errors      map[string]string
	CostCenters []costcenters.CostCenter
}

type openForm struct {
	CostCenterID int64
	StartDate    string
	EndDate      string
	Notes        string
}

type badgeView struct {
	Label string
	Kind  string
}

type actionState struct {
	Enabled bool
	Message string
}

type statusOption struct {
	Value closing.Status
	Label string
}

// NewHandler constructs the closing HTTP handler.
func NewHandler(logger *slog.Logger, service closingService, costCenters costCenterSource, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		logger:      logger,
		service:     service,
		costCenters: costCenters,
		templates:   templates,
		csrf:        csrf,
		rbac:        rbac,
		location:    loc,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/closings", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapClosingsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.CapClosingsOperate))
			r.Get("/new", h.newForm)
			r.Post("/", h.open)
			r.Post("/{id}/recompute", h.recompute)
			r.Post("/{id}/submit", h.submit)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.CapClosingsApprove))
			r.Post("/{id}/approve", h.approve)
			r.Post("/{id}/reject", h.reject)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.CapClosingsProcess))
			r.Post("/{id}/process", h.process)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.CapClosingsReopen))
			r.Post("/{id}/reopen", h.reopen)
		})
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	fv := listFilterView{
		CostCenterID: httpx.FormInt64(r, "cost_center_id"),
		Status:       strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))),
		Year:         strings.TrimSpace(r.URL.Query().Get("year")),
	}
	filter := closing.ListFilter{CostCenterID: fv.CostCenterID}
	switch closing.Status(fv.Status) {
	case closing.StatusPending, closing.StatusApproved, closing.StatusRejected, closing.StatusProcessed:
		filter.Status = closing.Status(fv.Status)
	default:
		fv.Status = ""
	}
	var yearErr string
	if fv.Year != "" {
		year, err := strconv.Atoi(fv.Year)
		if err != nil || year < 1900 || year > 9999 {
			yearErr = "Ano inválido"
		} else {
			filter.Year = year
		}
	}
	closings, err := h.service.List(r.Context(), shared.ActorID(r.Context()), filter)
	if err != nil {
		h.failPage(w, r, "list closings", err)
		return
	}
	centers, err := h.costCenters.List(r.Context())
	if err != nil {
		h.failPage(w, r, "list cost centers", err)
		return
	}
	rows := make([]closingRow, 0, len(closings))
	for _, c := range closings {
		rows = append(rows, newClosingRow(c))
	}
	h.render(w, r, "pages/closings/list.html", "Fechamentos", listPageData{
		Filter:      fv,
		YearError:   yearErr,
		Closings:    rows,
		CostCenters: centers,
		Statuses:    statusOptions(),
	}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := closingID(w, r)
	if !ok {
		return
	}
	actorID := shared.ActorID(r.Context())
	c, err := h.service.Get(r.Context(), id, actorID)
	if err != nil {
		h.failPage(w, r, "get closing", err)
		return
	}
	data := showPageData{
		Closing:     c,
		StatusBadge: badgeForStatus(c.Status),
		ReportURL:   "/reports/closings/" + strconv.FormatInt(c.ID, 10) + ".pdf",
	}
	if c.Status.Locked() {
		if data.Details, err = h.service.Details(r.Context(), id, actorID); err != nil {
			h.failPage(w, r, "closing details", err)
			return
		}
		if data.Items, err = h.service.Items(r.Context(), id, actorID); err != nil {
			h.failPage(w, r, "closing items", err)
			return
		}
	}
	access, _ := rbac.AccessFromContext(r.Context())
	canProcess := access.Can(shared.CapClosingsProcess)
	if canProcess && c.Status == closing.StatusApproved && c.CostCenterType == costcenters.TypeHeadquarters {
		selectable, err := h.service.SelectableForHeadquarters(r.Context(), id, actorID)
		if err != nil {
			h.failPage(w, r, "selectable closings", err)
			return
		}
		for _, s := range selectable {
			data.Selectable = append(data.Selectable, newClosingRow(s))
		}
	}
	data.Recompute = submitState(c)
	data.Submit = submitState(c)
	data.Approve = pendingState(c)
	data.Reject = pendingState(c)
	data.Process = processState(c, len(data.Selectable))
	data.Reopen = reopenState(c)
	h.render(w, r, "pages/closings/show.html", "Fechamento", data, http.StatusOK)
}

func (h *Handler) newForm(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(h.location)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.location).AddDate(0, -1, 0)
	form := openForm{
		StartDate: first.Format(httpx.DateLayout),
		EndDate:   first.AddDate(0, 1, -1).Format(httpx.DateLayout),
	}
	if access, ok := rbac.AccessFromContext(r.Context()); ok && access.CostCenterID != nil {
		form.CostCenterID = *access.CostCenterID
	}
	h.renderOpenForm(w, r, form, nil, http.StatusOK)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := openForm{
		CostCenterID: httpx.FormInt64(r, "cost_center_id"),
		StartDate:    strings.TrimSpace(r.PostFormValue("start_date")),
		EndDate:      strings.TrimSpace(r.PostFormValue("end_date")),
		Notes:        strings.TrimSpace(r.PostFormValue("notes")),
	}
	errs := map[string]string{}
	start, err := httpx.ParseDate(form.StartDate, h.location)
	if err != nil {
		errs["start_date"] = "Data inicial inválida"
	}
	end, err := httpx.ParseDate(form.EndDate, h.location)
	if err != nil {
		errs["end_date"] = "Data final inválida"
	}
	if len(errs) > 0 {
		h.renderOpenForm(w, r, form, errs, http.StatusBadRequest)
		return
	}
	c, err := h.service.Open(r.Context(), closing.OpenInput{
		CostCenterID: form.CostCenterID,
		Start:        start,
		End:          end,
		ActorID:      shared.ActorID(r.Context()),
		Notes:        form.Notes,
	})
	if err != nil {
		status := httpx.StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("open closing", slog.Any("error", err))
		}
		var verrs shared.ValidationErrors
		if errors.As(err, &verrs) {
			errs = verrs.Fields()
		} else {
			errs["general"] = httpx.UserMessage(err)
		}
		h.renderOpenForm(w, r, form, errs, status)
		return
	}
	h.redirectWithFlash(w, r, closingURL(c.ID), "success", "Fechamento aberto")
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "recompute closing", "Totais recalculados", func(ctx context.Context, id, actorID int64) error {
		_, err := h.service.Recompute(ctx, id, actorID)
		return err
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit closing", "Fechamento enviado para aprovação", func(ctx context.Context, id, actorID int64) error {
		_, err := h.service.Submit(ctx, id, actorID)
		return err
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve closing", "Fechamento aprovado", func(ctx context.Context, id, actorID int64) error {
		_, err := h.service.Approve(ctx, id, actorID)
		return err
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject closing", "Fechamento rejeitado", func(ctx context.Context, id, actorID int64) error {
		_, err := h.service.Reject(ctx, id, actorID, r.PostFormValue("reason"))
		return err
	})
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reopen closing", "Fechamento reaberto", func(ctx context.Context, id, actorID int64) error {
		_, err := h.service.Reopen(ctx, id, actorID, r.PostFormValue("reason"))
		return err
	})
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "process closings", "Fechamentos processados pela sede", func(ctx context.Context, id, actorID int64) error {
		var ids []int64
		for _, raw := range r.PostForm["closing_ids"] {
			if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && v > 0 {
				ids = append(ids, v)
			}
		}
		_, err := h.service.ProcessByHeadquarters(ctx, id, ids, actorID)
		return err
	})
}

// transition runs a POST action against /closings/{id} and redirects back.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op, success string, fn func(ctx context.Context, id, actorID int64) error) {
	id, ok := closingID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := fn(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error(op, slog.Any("error", err))
		} else {
			h.logger.Warn(op, slog.Int64("closing_id", id), slog.Any("error", err))
		}
		kind := "danger"
		if closing.IsConflict(err) {
			kind = "warning"
		}
		h.redirectWithFlash(w, r, closingURL(id), kind, httpx.UserMessage(err))
		return
	}
	h.redirectWithFlash(w, r, closingURL(id), "success", success)
}

func (h *Handler) renderOpenForm(w http.ResponseWriter, r *http.Request, form openForm, errs map[string]string, status int) {
	centers, err := h.costCenters.List(r.Context())
	if err != nil {
		h.failPage(w, r, "list cost centers", err)
		return
	}
	h.render(w, r, "pages/closings/new.html", "Novo fechamento", openPageData{Form: form, Errors: errs, CostCenters: centers}, status)
}

func (h *Handler) failPage(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	h.render(w, r, "pages/error.html", http.StatusText(status), httpx.UserMessage(err), status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, title, data)
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func closingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func closingURL(id int64) string {
	return "/closings/" + strconv.FormatInt(id, 10)
}

func newClosingRow(c closing.Closing) closingRow {
	return closingRow{Closing: c, StatusBadge: badgeForStatus(c.Status), URL: closingURL(c.ID)}
}

func badgeForStatus(status closing.Status) badgeView {
	switch status {
	case closing.StatusApproved:
		return badgeView{Label: status.Label(), Kind: "success"}
	case closing.StatusRejected:
		return badgeView{Label: status.Label(), Kind: "danger"}
	case closing.StatusProcessed:
		return badgeView{Label: status.Label(), Kind: "muted"}
	default:
		return badgeView{Label: status.Label(), Kind: "warning"}
	}
}

func statusOptions() []statusOption {
	statuses := []closing.Status{closing.StatusPending, closing.StatusApproved, closing.StatusRejected, closing.StatusProcessed}
	out := make([]statusOption, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, statusOption{Value: s, Label: s.Label()})
	}
	return out
}

func pendingState(c closing.Closing) actionState {
	if c.Status != closing.StatusPending {
		return actionState{Message: "Fechamento " + strings.ToLower(c.Status.Label())}
	}
	return actionState{Enabled: true}
}

func submitState(c closing.Closing) actionState {
	if c.Status == closing.StatusPending && c.SubmittedAt != nil {
		return actionState{Message: "Enviado em " + view.FormatDay(*c.SubmittedAt)}
	}
	return pendingState(c)
}

func processState(c closing.Closing, selectable int) actionState {
	switch {
	case c.CostCenterType != costcenters.TypeHeadquarters:
		return actionState{}
	case c.Status != closing.StatusApproved:
		return actionState{Message: "A sede precisa estar aprovada para processar congregações"}
	case selectable == 0:
		return actionState{Message: "Nenhum fechamento aprovado aguardando processamento"}
	}
	return actionState{Enabled: true}
}

func reopenState(c closing.Closing) actionState {
	if c.Status != closing.StatusApproved {
		return actionState{}
	}
	return actionState{Enabled: true}
}
