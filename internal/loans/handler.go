package loans

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type loanService interface {
	List(ctx context.Context, actorID int64, status Status) ([]Loan, error)
	Get(ctx context.Context, actorID, id int64) (Loan, []Payment, error)
	Create(ctx context.Context, actorID int64, in Input) (Loan, error)
	RecordPayment(ctx context.Context, actorID, loanID int64, in PaymentInput) (Loan, Payment, error)
}

// Handler exposes the loans JSON API.
type Handler struct {
	logger    *slog.Logger
	service   loanService
	rbac      rbac.Middleware
	validator *validator.Validate
	location  *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service loanService, rbac rbac.Middleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New(), location: loc}
}

// MountRoutes registers routes under the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapLoansEdit))
		r.Post("/", h.create)
		r.Post("/{id}/payments", h.pay)
	})
}

type loanForm struct {
	CostCenterID int64  `json:"cost_center_id" validate:"required,gt=0"`
	Direction    string `json:"direction" validate:"required,oneof=GIVEN TAKEN"`
	Counterparty string `json:"counterparty" validate:"required,max=160"`
	Principal    string `json:"principal" validate:"required"`
	IssuedOn     string `json:"issued_on"`
	DueOn        string `json:"due_on"`
	Notes        string `json:"notes" validate:"max=500"`
}

type paymentForm struct {
	Amount          string `json:"amount" validate:"required"`
	PaidOn          string `json:"paid_on" validate:"required"`
	CreateEntry     bool   `json:"create_entry"`
	CategoryID      int64  `json:"category_id" validate:"required_if=CreateEntry true"`
	PaymentMethodID int64  `json:"payment_method_id" validate:"required_if=CreateEntry true"`
}

type loanView struct {
	Loan
	Balance  string    `json:"balance"`
	Payments []Payment `json:"payments,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	if status != "" && status != StatusOpen && status != StatusSettled {
		httpx.RespondError(w, shared.Invalid("status", "status inválido"))
		return
	}
	items, err := h.service.List(r.Context(), shared.ActorID(r.Context()), status)
	if err != nil {
		h.fail(w, "list loans", err)
		return
	}
	views := make([]loanView, 0, len(items))
	for _, l := range items {
		views = append(views, loanView{Loan: l, Balance: l.Balance().StringFixed(2)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	l, payments, err := h.service.Get(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.fail(w, "get loan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, loanView{Loan: l, Balance: l.Balance().StringFixed(2), Payments: payments})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form loanForm
	if !h.decode(w, r, &form) {
		return
	}
	var errs shared.ValidationErrors
	principal, err := httpx.ParseAmount(form.Principal)
	if err != nil {
		errs.Add("principal", "valor inválido")
	}
	issued, err := httpx.ParseDate(form.IssuedOn, h.location)
	if err != nil {
		errs.Add("issued_on", "data inválida")
	}
	var due *time.Time
	if d, err := httpx.ParseDate(form.DueOn, h.location); err != nil {
		errs.Add("due_on", "data inválida")
	} else if !d.IsZero() {
		due = &d
	}
	if err := errs.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	l, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), Input{
		CostCenterID: form.CostCenterID,
		Direction:    Direction(form.Direction),
		Counterparty: form.Counterparty,
		Principal:    principal,
		IssuedOn:     issued,
		DueOn:        due,
		Notes:        form.Notes,
	})
	if err != nil {
		h.fail(w, "create loan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loanView{Loan: l, Balance: l.Balance().StringFixed(2)})
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form paymentForm
	if !h.decode(w, r, &form) {
		return
	}
	var errs shared.ValidationErrors
	amount, err := httpx.ParseAmount(form.Amount)
	if err != nil {
		errs.Add("amount", "valor inválido")
	}
	paidOn, err := httpx.ParseDate(form.PaidOn, h.location)
	if err != nil {
		errs.Add("paid_on", "data inválida")
	}
	if err := errs.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	l, p, err := h.service.RecordPayment(r.Context(), shared.ActorID(r.Context()), id, PaymentInput{
		Amount:          amount,
		PaidOn:          paidOn,
		CreateEntry:     form.CreateEntry,
		CategoryID:      form.CategoryID,
		PaymentMethodID: form.PaymentMethodID,
	})
	if err != nil {
		h.fail(w, "record loan payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"loan":    loanView{Loan: l, Balance: l.Balance().StringFixed(2)},
		"payment": p,
	})
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
