// Package ledger stores the income and expense entries every other treasury
// module aggregates.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Entry is a single income or expense movement.
type Entry struct {
	ID                int64              `json:"id"`
	Kind              masterdata.Kind    `json:"kind"`
	Date              time.Time          `json:"date"`
	Amount            decimal.Decimal    `json:"amount"`
	CostCenterID      int64              `json:"cost_center_id"`
	CostCenterName    string             `json:"cost_center_name,omitempty"`
	PaymentMethodID   int64              `json:"payment_method_id"`
	PaymentMethodName string             `json:"payment_method_name,omitempty"`
	CashBox           masterdata.CashBox `json:"cash_box"`
	CategoryID        int64              `json:"category_id"`
	CategoryName      string             `json:"category_name,omitempty"`
	MemberID          *int64             `json:"member_id,omitempty"`
	SupplierID        *int64             `json:"supplier_id,omitempty"`
	Description       string             `json:"description"`
	IncludedInClosing bool               `json:"included_in_closing"`
	ClosingID         *int64             `json:"closing_id,omitempty"`
	InclusionDate     *time.Time         `json:"inclusion_date,omitempty"`
	CreatedBy         int64              `json:"created_by"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	DeletedAt         *time.Time         `json:"deleted_at,omitempty"`
}

// Signed returns the amount with expenses negated.
func (e Entry) Signed() decimal.Decimal {
	if e.Kind == masterdata.KindExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Input carries create/update data.
type Input struct {
	Kind            masterdata.Kind
	Date            time.Time
	Amount          decimal.Decimal
	CostCenterID    int64
	PaymentMethodID int64
	CategoryID      int64
	MemberID        *int64
	SupplierID      *int64
	Description     string
}

// Validate checks the entry fields that need no lookups.
func (in Input) Validate() error {
	var errs shared.ValidationErrors
	if !in.Kind.Valid() {
		errs.Add("kind", "tipo de lançamento inválido")
	}
	if in.Date.IsZero() {
		errs.Add("date", "data obrigatória")
	}
	if !in.Amount.IsPositive() {
		errs.Add("amount", "valor deve ser maior que zero")
	} else if !in.Amount.Equal(in.Amount.Truncate(2)) {
		errs.Add("amount", "valor deve ter no máximo duas casas decimais")
	}
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	if in.PaymentMethodID <= 0 {
		errs.Add("payment_method_id", "forma de pagamento obrigatória")
	}
	if in.CategoryID <= 0 {
		errs.Add("category_id", "categoria obrigatória")
	}
	if in.MemberID != nil && in.Kind != masterdata.KindIncome {
		errs.Add("member_id", "membro só pode ser informado em entradas")
	}
	if in.SupplierID != nil && in.Kind != masterdata.KindExpense {
		errs.Add("supplier_id", "fornecedor só pode ser informado em saídas")
	}
	if len(strings.TrimSpace(in.Description)) > 255 {
		errs.Add("description", "descrição muito longa")
	}
	return errs.Err()
}

// Filter narrows entry listings.
type Filter struct {
	CostCenterID int64
	Kind         masterdata.Kind
	From         time.Time
	To           time.Time
	Included     *bool
	// CostCenterIDs restricts results to the actor's visible cost centers; nil means all.
	CostCenterIDs []int64
	Page          int
	PerPage       int
}

// Totals summarises a filtered listing.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Balance is income minus expense.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

var (
	// ErrEntryNotFound is returned for unknown or deleted entries.
	ErrEntryNotFound = fmt.Errorf("ledger: entry %w", shared.ErrNotFound)
	// ErrEntryLocked is returned when editing an entry included in an approved closing.
	ErrEntryLocked error = shared.ValidationError{Field: "entry", Message: "lançamento incluído em fechamento aprovado não pode ser alterado"}
	// ErrPeriodClosed is returned when the entry date falls in an approved closing.
	ErrPeriodClosed error = shared.ValidationError{Field: "date", Message: "o período já possui fechamento aprovado para este centro de custo"}
)
