// Package closing implements the period closing workflow: a cost center's
// entries for a date range are totalled, approved once, apportioned to other
// cost centers and finally absorbed by the headquarters closing.
package closing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Status enumerates closing lifecycle stages.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusProcessed Status = "PROCESSED"
)

// Label returns the display name.
func (s Status) Label() string {
	switch s {
	case StatusApproved:
		return "Aprovado"
	case StatusRejected:
		return "Rejeitado"
	case StatusProcessed:
		return "Processado"
	default:
		return "Pendente"
	}
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusProcessed || next == StatusPending
	}
	return false
}

// Locked reports whether the closing's entries are committed.
func (s Status) Locked() bool {
	return s == StatusApproved || s == StatusProcessed
}

// Totals are the per-closing sums split by cash box.
type Totals struct {
	Income          decimal.Decimal `json:"income"`
	Expense         decimal.Decimal `json:"expense"`
	IncomePhysical  decimal.Decimal `json:"income_physical"`
	IncomeDigital   decimal.Decimal `json:"income_digital"`
	ExpensePhysical decimal.Decimal `json:"expense_physical"`
	ExpenseDigital  decimal.Decimal `json:"expense_digital"`
	EntryCount      int             `json:"entry_count"`
}

// Balance is income minus expense.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

// Closing is the reconciliation of one cost center over [StartDate, EndDate].
type Closing struct {
	ID                   int64            `json:"id"`
	CostCenterID         int64            `json:"cost_center_id"`
	CostCenterName       string           `json:"cost_center_name"`
	CostCenterType       costcenters.Type `json:"cost_center_type"`
	StartDate            time.Time        `json:"start_date"`
	EndDate              time.Time        `json:"end_date"`
	Totals               Totals           `json:"totals"`
	TotalApportionment   decimal.Decimal  `json:"total_apportionment"`
	TotalReceived        decimal.Decimal  `json:"total_received"`
	FinalBalance         decimal.Decimal  `json:"final_balance"`
	Status               Status           `json:"status"`
	Notes                string           `json:"notes,omitempty"`
	CreatedBy            int64            `json:"created_by"`
	CreatedAt            time.Time        `json:"created_at"`
	SubmittedBy          *int64           `json:"submitted_by,omitempty"`
	SubmittedAt          *time.Time       `json:"submitted_at,omitempty"`
	ApprovedBy           *int64           `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time       `json:"approved_at,omitempty"`
	RejectedBy           *int64           `json:"rejected_by,omitempty"`
	RejectedAt           *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason      string           `json:"rejection_reason,omitempty"`
	ProcessedByClosingID *int64           `json:"processed_by_closing_id,omitempty"`
	ProcessedAt          *time.Time       `json:"processed_at,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Overlaps reports whether the closing's range intersects [start, end].
func (c Closing) Overlaps(start, end time.Time) bool {
	return !c.StartDate.After(end) && !start.After(c.EndDate)
}

// EntryLine is the snapshot of one ledger entry taken into a closing.
type EntryLine struct {
	EntryID           int64              `json:"entry_id"`
	Kind              masterdata.Kind    `json:"kind"`
	Date              time.Time          `json:"date"`
	Amount            decimal.Decimal    `json:"amount"`
	CategoryID        int64              `json:"category_id"`
	CategoryName      string             `json:"category_name"`
	PaymentMethodID   int64              `json:"payment_method_id"`
	PaymentMethodName string             `json:"payment_method_name"`
	CashBox           masterdata.CashBox `json:"cash_box"`
	Description       string             `json:"description"`
}

// Detail is a persisted EntryLine of an approved closing.
type Detail struct {
	ID        int64 `json:"id"`
	ClosingID int64 `json:"closing_id"`
	EntryLine
}

// Aggregate sums lines into Totals.
func Aggregate(lines []EntryLine) Totals {
	t := Totals{
		Income: decimal.Zero, Expense: decimal.Zero,
		IncomePhysical: decimal.Zero, IncomeDigital: decimal.Zero,
		ExpensePhysical: decimal.Zero, ExpenseDigital: decimal.Zero,
	}
	for _, l := range lines {
		t.EntryCount++
		digital := l.CashBox == masterdata.CashBoxDigital
		switch l.Kind {
		case masterdata.KindIncome:
			t.Income = t.Income.Add(l.Amount)
			if digital {
				t.IncomeDigital = t.IncomeDigital.Add(l.Amount)
			} else {
				t.IncomePhysical = t.IncomePhysical.Add(l.Amount)
			}
		case masterdata.KindExpense:
			t.Expense = t.Expense.Add(l.Amount)
			if digital {
				t.ExpenseDigital = t.ExpenseDigital.Add(l.Amount)
			} else {
				t.ExpensePhysical = t.ExpensePhysical.Add(l.Amount)
			}
		}
	}
	return t
}

// OpenInput captures the data needed to open a closing.
type OpenInput struct {
	CostCenterID int64
	Start        time.Time
	End          time.Time
	ActorID      int64
	Notes        string
}

// Validate checks the fields that need no lookups.
func (in OpenInput) Validate() error {
	var errs shared.ValidationErrors
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	if in.Start.IsZero() {
		errs.Add("start_date", "data inicial obrigatória")
	}
	if in.End.IsZero() {
		errs.Add("end_date", "data final obrigatória")
	}
	if !in.Start.IsZero() && !in.End.IsZero() && in.Start.After(in.End) {
		errs.Add("end_date", "data inicial posterior à data final")
	}
	if len(strings.TrimSpace(in.Notes)) > 1000 {
		errs.Add("notes", "observações muito longas")
	}
	return errs.Err()
}

// ListFilter narrows closing listings.
type ListFilter struct {
	CostCenterID int64
	Status       Status
	Year         int
}

var (
	// ErrClosingNotFound is returned for unknown ids.
	ErrClosingNotFound = fmt.Errorf("closing: %w", shared.ErrNotFound)
	// ErrInvalidTransition is returned when the current status forbids the operation.
	ErrInvalidTransition error = shared.ValidationError{Field: "status", Message: "operação não permitida no status atual do fechamento"}
	// ErrAlreadySubmitted is returned by a second Submit.
	ErrAlreadySubmitted error = shared.ValidationError{Field: "status", Message: "fechamento já foi enviado para aprovação"}
	// ErrSubmittedTotals is returned by Recompute once the totals were submitted.
	ErrSubmittedTotals error = shared.ValidationError{Field: "status", Message: "fechamento enviado para aprovação não pode ser recalculado"}
	// ErrHasProcessed is returned by Reopen on a headquarters closing that absorbed others.
	ErrHasProcessed error = shared.ValidationError{Field: "status", Message: "fechamento da sede já processou fechamentos de congregações e não pode ser reaberto"}
	// ErrNoEntries is returned when no open entries exist in the range.
	ErrNoEntries error = shared.ValidationError{Field: "period", Message: "nenhum lançamento em aberto no período"}
	// ErrOverlap is returned by Open when an approved closing covers part of the range.
	ErrOverlap error = shared.ValidationError{Field: "period", Message: "já existe fechamento aprovado que cobre parte deste período"}
)

// IsConflict reports whether err is a lost race that the caller may retry.
func IsConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict)
}
