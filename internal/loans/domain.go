// Package loans tracks money lent to or borrowed from other parties and the
// payments that settle them.
package loans

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Direction says who owes whom.
type Direction string

const (
	// DirectionGiven is money the church lent; repayments are income.
	DirectionGiven Direction = "GIVEN"
	// DirectionTaken is money the church borrowed; repayments are expenses.
	DirectionTaken Direction = "TAKEN"
)

// Valid reports whether d is known.
func (d Direction) Valid() bool {
	return d == DirectionGiven || d == DirectionTaken
}

// Label returns the display name.
func (d Direction) Label() string {
	if d == DirectionTaken {
		return "Tomado"
	}
	return "Concedido"
}

// EntryKind is the ledger kind of a repayment.
func (d Direction) EntryKind() masterdata.Kind {
	if d == DirectionTaken {
		return masterdata.KindExpense
	}
	return masterdata.KindIncome
}

// Status of a loan.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusSettled Status = "SETTLED"
)

// Loan is a single lending agreement.
type Loan struct {
	ID           int64           `json:"id"`
	CostCenterID int64           `json:"cost_center_id"`
	Direction    Direction       `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Principal    decimal.Decimal `json:"principal"`
	Paid         decimal.Decimal `json:"paid"`
	IssuedOn     time.Time       `json:"issued_on"`
	DueOn        *time.Time      `json:"due_on,omitempty"`
	Status       Status          `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
}

// Balance is principal minus paid.
func (l Loan) Balance() decimal.Decimal {
	return l.Principal.Sub(l.Paid)
}

// Payment is one repayment of a loan.
type Payment struct {
	ID        int64           `json:"id"`
	LoanID    int64           `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	PaidOn    time.Time       `json:"paid_on"`
	EntryID   *int64          `json:"entry_id,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Input carries the data of a new loan.
type Input struct {
	CostCenterID int64
	Direction    Direction
	Counterparty string
	Principal    decimal.Decimal
	IssuedOn     time.Time
	DueOn        *time.Time
	Notes        string
}

// Validate checks the loan fields.
func (in Input) Validate() error {
	var errs shared.ValidationErrors
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	if !in.Direction.Valid() {
		errs.Add("direction", "tipo de empréstimo inválido")
	}
	if strings.TrimSpace(in.Counterparty) == "" {
		errs.Add("counterparty", "contraparte obrigatória")
	}
	validateAmount(&errs, "principal", in.Principal)
	if in.IssuedOn.IsZero() {
		errs.Add("issued_on", "data obrigatória")
	}
	if in.DueOn != nil && !in.IssuedOn.IsZero() && in.DueOn.Before(in.IssuedOn) {
		errs.Add("due_on", "vencimento anterior à data do empréstimo")
	}
	return errs.Err()
}

// PaymentInput carries a repayment. When CreateEntry is set the payment is
// also booked in the ledger with the given category and payment method.
type PaymentInput struct {
	Amount          decimal.Decimal
	PaidOn          time.Time
	CreateEntry     bool
	CategoryID      int64
	PaymentMethodID int64
}

// Validate checks the payment fields.
func (in PaymentInput) Validate() error {
	var errs shared.ValidationErrors
	validateAmount(&errs, "amount", in.Amount)
	if in.PaidOn.IsZero() {
		errs.Add("paid_on", "data obrigatória")
	}
	if in.CreateEntry {
		if in.CategoryID <= 0 {
			errs.Add("category_id", "categoria obrigatória para gerar lançamento")
		}
		if in.PaymentMethodID <= 0 {
			errs.Add("payment_method_id", "forma de pagamento obrigatória para gerar lançamento")
		}
	}
	return errs.Err()
}

func validateAmount(errs *shared.ValidationErrors, field string, v decimal.Decimal) {
	if !v.IsPositive() {
		errs.Add(field, "valor deve ser maior que zero")
	} else if !v.Equal(v.Truncate(2)) {
		errs.Add(field, "valor deve ter no máximo duas casas decimais")
	}
}

var (
	// ErrLoanNotFound is returned for unknown loans.
	ErrLoanNotFound = fmt.Errorf("loans: loan %w", shared.ErrNotFound)
	// ErrOverpayment is returned when a payment exceeds the open balance.
	ErrOverpayment error = shared.ValidationError{Field: "amount", Message: "pagamento maior que o saldo devedor"}
	// ErrLoanSettled is returned when paying a settled loan.
	ErrLoanSettled error = shared.ValidationError{Field: "loan", Message: "empréstimo já quitado"}
)
