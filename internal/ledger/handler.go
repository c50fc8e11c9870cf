package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

type ledgerService interface {
	List(ctx context.Context, actorID int64, filter Filter) ([]Entry, Totals, shared.Pagination, error)
	Get(ctx context.Context, actorID, id int64) (Entry, error)
	Create(ctx context.Context, actorID int64, in Input) (Entry, error)
	Update(ctx context.Context, actorID, id int64, in Input) (Entry, error)
	Delete(ctx context.Context, actorID, id int64) error
}

type optionSource interface {
	List(ctx context.Context) ([]costcenters.CostCenter, error)
}

type masterdataLister interface {
	ListPaymentMethods(ctx context.Context, filters masterdata.ListFilters) ([]masterdata.PaymentMethod, error)
	ListCategories(ctx context.Context, kind masterdata.Kind, filters masterdata.ListFilters) ([]masterdata.Category, error)
}

// Handler serves the entry pages.
type Handler struct {
	logger      *slog.Logger
	service     ledgerService
	costCenters optionSource
	masterdata  masterdataLister
	templates   *view.Engine
	csrf        *shared.CSRFManager
	rbac        rbac.Middleware
	location    *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ledgerService, costCenters optionSource, md masterdataLister, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, costCenters: costCenters, masterdata: md, templates: templates, csrf: csrf, rbac: rbac, location: loc}
}

// MountRoutes registers entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/entries", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/", h.list)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.CapEntriesEdit))
			r.Get("/new", h.newForm)
			r.Post("/", h.create)
			r.Get("/{id}/edit", h.editForm)
			r.Post("/{id}/edit", h.update)
			r.Post("/{id}/delete", h.delete)
		})
	})
}

type listPageData struct {
	Filter      filterView
	Entries     []Entry
	Totals      Totals
	Balance     string
	Pagination  shared.Pagination
	CostCenters []costcenters.CostCenter
	NextURL     string
}

type filterView struct {
	CostCenterID int64
	Kind         string
	From         string
	To           string
	Included     string
}

type formPageData struct {
	Action         string
	Entry          entryForm
	Errors         map[string]string
	CostCenters    []costcenters.CostCenter
	PaymentMethods []masterdata.PaymentMethod
	Categories     []masterdata.Category
}

type entryForm struct {
	Kind            string
	Date            string
	Amount          string
	CostCenterID    int64
	PaymentMethodID int64
	CategoryID      int64
	MemberID        int64
	SupplierID      int64
	Description     string
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	fv := filterView{
		CostCenterID: httpx.FormInt64(r, "cost_center_id"),
		Kind:         strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind"))),
		From:         strings.TrimSpace(r.URL.Query().Get("from")),
		To:           strings.TrimSpace(r.URL.Query().Get("to")),
		Included:     strings.TrimSpace(r.URL.Query().Get("included")),
	}
	filter := Filter{CostCenterID: fv.CostCenterID, Kind: masterdata.Kind(fv.Kind), Page: int(httpx.FormInt64(r, "page"))}
	if filter.Kind != "" && !filter.Kind.Valid() {
		filter.Kind, fv.Kind = "", ""
	}
	filter.From, _ = httpx.ParseDate(fv.From, h.location)
	filter.To, _ = httpx.ParseDate(fv.To, h.location)
	if v, err := strconv.ParseBool(fv.Included); err == nil {
		filter.Included = &v
	}

	actorID := shared.ActorID(r.Context())
	entries, totals, pagination, err := h.service.List(r.Context(), actorID, filter)
	if err != nil {
		h.failPage(w, r, "list entries", err)
		return
	}
	centers, err := h.costCenters.List(r.Context())
	if err != nil {
		h.failPage(w, r, "list cost centers", err)
		return
	}
	data := listPageData{
		Filter:      fv,
		Entries:     entries,
		Totals:      totals,
		Balance:     view.Money(totals.Balance()),
		Pagination:  pagination,
		CostCenters: centers,
	}
	if pagination.HasNext() {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(pagination.Page+1))
		data.NextURL = "/entries?" + q.Encode()
	}
	h.render(w, r, "pages/entries/list.html", "Lançamentos", data, http.StatusOK)
}

func (h *Handler) newForm(w http.ResponseWriter, r *http.Request) {
	form := entryForm{Kind: string(masterdata.KindIncome), Date: time.Now().In(h.location).Format(httpx.DateLayout)}
	if access, ok := rbac.AccessFromContext(r.Context()); ok && access.CostCenterID != nil {
		form.CostCenterID = *access.CostCenterID
	}
	h.renderForm(w, r, "/entries", form, nil, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	form, in, errs := h.parseForm(r)
	if len(errs) > 0 {
		h.renderForm(w, r, "/entries", form, errs, http.StatusBadRequest)
		return
	}
	if _, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), in); err != nil {
		h.formError(w, r, "/entries", form, "create entry", err)
		return
	}
	h.redirectWithFlash(w, r, "/entries", "success", "Lançamento registrado")
}

func (h *Handler) editForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.failPage(w, r, "get entry", err)
		return
	}
	if entry.IncludedInClosing {
		h.redirectWithFlash(w, r, "/entries", "warning", "Lançamento incluído em fechamento aprovado não pode ser alterado")
		return
	}
	form := entryForm{
		Kind:            string(entry.Kind),
		Date:            entry.Date.Format(httpx.DateLayout),
		Amount:          entry.Amount.StringFixed(2),
		CostCenterID:    entry.CostCenterID,
		PaymentMethodID: entry.PaymentMethodID,
		CategoryID:      entry.CategoryID,
		Description:     entry.Description,
	}
	if entry.MemberID != nil {
		form.MemberID = *entry.MemberID
	}
	if entry.SupplierID != nil {
		form.SupplierID = *entry.SupplierID
	}
	h.renderForm(w, r, "/entries/"+strconv.FormatInt(id, 10)+"/edit", form, nil, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	action := "/entries/" + strconv.FormatInt(id, 10) + "/edit"
	form, in, errs := h.parseForm(r)
	if len(errs) > 0 {
		h.renderForm(w, r, action, form, errs, http.StatusBadRequest)
		return
	}
	if _, err := h.service.Update(r.Context(), shared.ActorID(r.Context()), id, in); err != nil {
		h.formError(w, r, action, form, "update entry", err)
		return
	}
	h.redirectWithFlash(w, r, "/entries", "success", "Lançamento atualizado")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.logger.Warn("delete entry", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/entries", "danger", httpx.UserMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/entries", "success", "Lançamento excluído")
}

func (h *Handler) parseForm(r *http.Request) (entryForm, Input, map[string]string) {
	errs := make(map[string]string)
	if err := r.ParseForm(); err != nil {
		errs["general"] = "Formulário inválido"
		return entryForm{}, Input{}, errs
	}
	form := entryForm{
		Kind:            strings.ToUpper(strings.TrimSpace(r.PostFormValue("kind"))),
		Date:            strings.TrimSpace(r.PostFormValue("date")),
		Amount:          strings.TrimSpace(r.PostFormValue("amount")),
		CostCenterID:    httpx.FormInt64(r, "cost_center_id"),
		PaymentMethodID: httpx.FormInt64(r, "payment_method_id"),
		CategoryID:      httpx.FormInt64(r, "category_id"),
		MemberID:        httpx.FormInt64(r, "member_id"),
		SupplierID:      httpx.FormInt64(r, "supplier_id"),
		Description:     strings.TrimSpace(r.PostFormValue("description")),
	}
	in := Input{
		Kind:            masterdata.Kind(form.Kind),
		CostCenterID:    form.CostCenterID,
		PaymentMethodID: form.PaymentMethodID,
		CategoryID:      form.CategoryID,
		MemberID:        httpx.FormOptionalInt64(r, "member_id"),
		SupplierID:      httpx.FormOptionalInt64(r, "supplier_id"),
		Description:     form.Description,
	}
	date, err := httpx.ParseDate(form.Date, h.location)
	if err != nil {
		errs["date"] = "Data inválida"
	}
	in.Date = date
	amount, err := httpx.ParseAmount(form.Amount)
	if err != nil {
		errs["amount"] = "Valor inválido"
	}
	in.Amount = amount
	return form, in, errs
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, action string, form entryForm, op string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	if status == http.StatusBadRequest {
		errs := map[string]string{}
		var verrs shared.ValidationErrors
		if errors.As(err, &verrs) {
			errs = verrs.Fields()
		} else {
			errs["general"] = httpx.UserMessage(err)
		}
		h.renderForm(w, r, action, form, errs, status)
		return
	}
	h.renderForm(w, r, action, form, map[string]string{"general": httpx.UserMessage(err)}, status)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, action string, form entryForm, errs map[string]string, status int) {
	data := formPageData{Action: action, Entry: form, Errors: errs}
	var err error
	if data.CostCenters, err = h.costCenters.List(r.Context()); err != nil {
		h.failPage(w, r, "list cost centers", err)
		return
	}
	if data.PaymentMethods, err = h.masterdata.ListPaymentMethods(r.Context(), masterdata.ListFilters{IsActive: boolPtr(true)}); err != nil {
		h.failPage(w, r, "list payment methods", err)
		return
	}
	if data.Categories, err = h.masterdata.ListCategories(r.Context(), "", masterdata.ListFilters{IsActive: boolPtr(true)}); err != nil {
		h.failPage(w, r, "list categories", err)
		return
	}
	h.render(w, r, "pages/entries/form.html", "Lançamento", data, status)
}

func (h *Handler) entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
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

func boolPtr(v bool) *bool { return &v }
