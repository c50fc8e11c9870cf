package masterdata

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Payment methods
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/payment-methods", h.listPaymentMethods)
		r.Get("/payment-methods/{id}", h.showPaymentMethod)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapMasterdataEdit))
		r.Post("/payment-methods", h.createPaymentMethod)
		r.Put("/payment-methods/{id}", h.updatePaymentMethod)
		r.Delete("/payment-methods/{id}", h.deletePaymentMethod)
	})

	// Account plan
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/categories", h.listCategories)
		r.Get("/categories/{id}", h.showCategory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapMasterdataEdit))
		r.Post("/categories", h.createCategory)
		r.Put("/categories/{id}", h.updateCategory)
	})

	// Members and suppliers
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/{party:members|suppliers}", h.listCounterparties)
		r.Get("/{party:members|suppliers}/{id}", h.showCounterparty)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapEntriesEdit))
		r.Post("/{party:members|suppliers}", h.createCounterparty)
		r.Put("/{party:members|suppliers}/{id}", h.updateCounterparty)
	})
}

type paymentMethodForm struct {
	Name    string `json:"name" validate:"required,max=80"`
	CashBox string `json:"cash_box" validate:"required,oneof=PHYSICAL DIGITAL"`
	Active  *bool  `json:"active"`
}

type categoryForm struct {
	Code   string `json:"code" validate:"required,max=20"`
	Name   string `json:"name" validate:"required,max=120"`
	Kind   string `json:"kind" validate:"required,oneof=INCOME EXPENSE"`
	Active *bool  `json:"active"`
}

type counterpartyForm struct {
	Name     string `json:"name" validate:"required,max=160"`
	Document string `json:"document" validate:"omitempty,max=20"`
	Phone    string `json:"phone" validate:"omitempty,max=30"`
	Active   *bool  `json:"active"`
}

func activeOrDefault(v *bool) bool {
	return v == nil || *v
}

func listFilters(r *http.Request) ListFilters {
	filters := ListFilters{Search: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &v
		}
	}
	return filters
}

// Payment method handlers

func (h *Handler) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListPaymentMethods(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, "list payment methods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) showPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetPaymentMethod(r.Context(), id)
	if err != nil {
		h.fail(w, "get payment method", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var form paymentMethodForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.CreatePaymentMethod(r.Context(), shared.ActorID(r.Context()), PaymentMethod{
		Name: form.Name, CashBox: CashBox(form.CashBox), Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "create payment method", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form paymentMethodForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.UpdatePaymentMethod(r.Context(), shared.ActorID(r.Context()), id, PaymentMethod{
		Name: form.Name, CashBox: CashBox(form.CashBox), Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "update payment method", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePaymentMethod(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete payment method", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Category handlers

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	kind := Kind(strings.ToUpper(r.URL.Query().Get("kind")))
	items, err := h.service.ListCategories(r.Context(), kind, listFilters(r))
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) showCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		h.fail(w, "get category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var form categoryForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.CreateCategory(r.Context(), shared.ActorID(r.Context()), Category{
		Code: form.Code, Name: form.Name, Kind: Kind(form.Kind), Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form categoryForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.UpdateCategory(r.Context(), shared.ActorID(r.Context()), id, Category{
		Code: form.Code, Name: form.Name, Kind: Kind(form.Kind), Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "update category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

// Counterparty handlers

func (h *Handler) listCounterparties(w http.ResponseWriter, r *http.Request) {
	party, err := ParseParty(chi.URLParam(r, "party"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Recurso não encontrado", "")
		return
	}
	items, err := h.service.ListCounterparties(r.Context(), party, listFilters(r))
	if err != nil {
		h.fail(w, "list counterparties", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) showCounterparty(w http.ResponseWriter, r *http.Request) {
	party, err := ParseParty(chi.URLParam(r, "party"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Recurso não encontrado", "")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetCounterparty(r.Context(), party, id)
	if err != nil {
		h.fail(w, "get counterparty", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createCounterparty(w http.ResponseWriter, r *http.Request) {
	party, err := ParseParty(chi.URLParam(r, "party"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Recurso não encontrado", "")
		return
	}
	var form counterpartyForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.CreateCounterparty(r.Context(), shared.ActorID(r.Context()), Counterparty{
		Party: party, Name: form.Name, Document: form.Document, Phone: form.Phone, Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "create counterparty", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateCounterparty(w http.ResponseWriter, r *http.Request) {
	party, err := ParseParty(chi.URLParam(r, "party"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Recurso não encontrado", "")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form counterpartyForm
	if !h.decode(w, r, &form) {
		return
	}
	item, err := h.service.UpdateCounterparty(r.Context(), shared.ActorID(r.Context()), id, Counterparty{
		Party: party, Name: form.Name, Document: form.Document, Phone: form.Phone, Active: activeOrDefault(form.Active),
	})
	if err != nil {
		h.fail(w, "update counterparty", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "JSON inválido", err.Error())
		return false
	}
	if err := httpx.Validate(h.validator, form); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Identificador inválido", "")
		return 0, false
	}
	return id, true
}
