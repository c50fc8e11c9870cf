// Package recurring manages fixed monthly expenses (rent, utilities, salaries)
// and the monthly occurrences that turn into ledger entries once paid.
package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Expense is a template for one monthly payment.
type Expense struct {
	ID              int64           `json:"id"`
	CostCenterID    int64           `json:"cost_center_id"`
	CategoryID      int64           `json:"category_id"`
	PaymentMethodID int64           `json:"payment_method_id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	DueDay          int             `json:"due_day"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Input carries create/update data.
type Input struct {
	CostCenterID    int64
	CategoryID      int64
	PaymentMethodID int64
	Description     string
	Amount          decimal.Decimal
	DueDay          int
	Active          bool
}

// Validate checks the fields that need no lookups.
func (in Input) Validate() error {
	var errs shared.ValidationErrors
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	if in.CategoryID <= 0 {
		errs.Add("category_id", "categoria obrigatória")
	}
	if in.PaymentMethodID <= 0 {
		errs.Add("payment_method_id", "forma de pagamento obrigatória")
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		errs.Add("description", "descrição obrigatória")
	} else if len(desc) > 200 {
		errs.Add("description", "descrição muito longa")
	}
	if !in.Amount.IsPositive() {
		errs.Add("amount", "valor deve ser maior que zero")
	} else if !in.Amount.Equal(in.Amount.Truncate(2)) {
		errs.Add("amount", "valor deve ter no máximo duas casas decimais")
	}
	if in.DueDay < 1 || in.DueDay > 28 {
		errs.Add("due_day", "dia de vencimento deve estar entre 1 e 28")
	}
	return errs.Err()
}

// Status is the lifecycle of an occurrence.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusPaid    Status = "PAID"
	StatusSkipped Status = "SKIPPED"
)

// Label returns the display name.
func (s Status) Label() string {
	switch s {
	case StatusPaid:
		return "Pago"
	case StatusSkipped:
		return "Dispensado"
	}
	return "Em aberto"
}

// Occurrence is one month's instance of an Expense.
type Occurrence struct {
	ID           int64           `json:"id"`
	RecurringID  int64           `json:"recurring_id"`
	CostCenterID int64           `json:"cost_center_id"`
	Description  string          `json:"description"`
	Year         int             `json:"year"`
	Month        int             `json:"month"`
	DueDate      time.Time       `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	Status       Status          `json:"status"`
	EntryID      *int64          `json:"entry_id,omitempty"`
	ResolvedBy   *int64          `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	SkipReason   string          `json:"skip_reason,omitempty"`
}

// Overdue reports whether an open occurrence is past its due date.
func (o Occurrence) Overdue(today time.Time) bool {
	return o.Status == StatusOpen && shared.DateOnly(today).After(o.DueDate)
}

// DueDate clamps dueDay to the length of the month.
func DueDate(year, month, dueDay int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, loc).Day()
	if dueDay > last {
		dueDay = last
	}
	if dueDay < 1 {
		dueDay = 1
	}
	return time.Date(year, time.Month(month), dueDay, 0, 0, 0, 0, loc)
}

// NewOccurrence materialises e for the given month.
func NewOccurrence(e Expense, year, month int, loc *time.Location) Occurrence {
	return Occurrence{
		RecurringID:  e.ID,
		CostCenterID: e.CostCenterID,
		Description:  e.Description,
		Year:         year,
		Month:        month,
		DueDate:      DueDate(year, month, e.DueDay, loc),
		Amount:       e.Amount,
		Status:       StatusOpen,
	}
}

func validateMonth(year, month int) error {
	var errs shared.ValidationErrors
	if year < 2000 || year > 2100 {
		errs.Add("year", "ano inválido")
	}
	if month < 1 || month > 12 {
		errs.Add("month", "mês inválido")
	}
	return errs.Err()
}

var (
	// ErrExpenseNotFound is returned for unknown recurring expenses.
	ErrExpenseNotFound = fmt.Errorf("recurring: expense %w", shared.ErrNotFound)
	// ErrOccurrenceNotFound is returned for unknown occurrences.
	ErrOccurrenceNotFound = fmt.Errorf("recurring: occurrence %w", shared.ErrNotFound)
	// ErrOccurrenceResolved is returned when paying or skipping a non-open occurrence.
	ErrOccurrenceResolved error = shared.ValidationError{Field: "status", Message: "ocorrência já foi paga ou dispensada"}
)
