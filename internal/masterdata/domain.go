package masterdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// ListFilters represents standard list filters.
type ListFilters struct {
	Search   string
	IsActive *bool
}

// CashBox distinguishes money held physically from money held in accounts.
type CashBox string

const (
	CashBoxPhysical CashBox = "PHYSICAL"
	CashBoxDigital  CashBox = "DIGITAL"
)

// Valid reports whether c is known.
func (c CashBox) Valid() bool {
	return c == CashBoxPhysical || c == CashBoxDigital
}

// Label returns the display name.
func (c CashBox) Label() string {
	if c == CashBoxDigital {
		return "Digital"
	}
	return "Físico"
}

// PaymentMethod is how money entered or left, e.g. cash, PIX, card.
type PaymentMethod struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CashBox   CashBox    `json:"cash_box"`
	Active    bool       `json:"active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Usable reports whether new entries may reference the method.
func (p PaymentMethod) Usable() bool {
	return p.Active && p.DeletedAt == nil
}

// Kind is the ledger direction an account plan category belongs to.
type Kind string

const (
	KindIncome  Kind = "INCOME"
	KindExpense Kind = "EXPENSE"
)

// Valid reports whether k is known.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// Label returns the display name.
func (k Kind) Label() string {
	if k == KindExpense {
		return "Saída"
	}
	return "Entrada"
}

// Category is an account plan entry such as "Dízimos" or "Energia elétrica".
type Category struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Party selects the counterparty table.
type Party string

const (
	PartyMember   Party = "members"
	PartySupplier Party = "suppliers"
)

// ParseParty maps a route segment onto a Party.
func ParseParty(raw string) (Party, error) {
	switch Party(strings.ToLower(strings.TrimSpace(raw))) {
	case PartyMember:
		return PartyMember, nil
	case PartySupplier:
		return PartySupplier, nil
	}
	return "", fmt.Errorf("masterdata: unknown counterparty %q", raw)
}

// Counterparty is a member (tithes, offerings) or a supplier (expenses).
type Counterparty struct {
	ID        int64     `json:"id"`
	Party     Party     `json:"party"`
	Name      string    `json:"name"`
	Document  string    `json:"document,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Errors returned by the package.
var (
	ErrPaymentMethodNotFound = fmt.Errorf("masterdata: payment method %w", shared.ErrNotFound)
	ErrCategoryNotFound      = fmt.Errorf("masterdata: category %w", shared.ErrNotFound)
	ErrCounterpartyNotFound  = fmt.Errorf("masterdata: counterparty %w", shared.ErrNotFound)
)

func validatePaymentMethod(p PaymentMethod) error {
	var errs shared.ValidationErrors
	if strings.TrimSpace(p.Name) == "" {
		errs.Add("name", "nome obrigatório")
	}
	if !p.CashBox.Valid() {
		errs.Add("cash_box", "tipo de caixa inválido")
	}
	return errs.Err()
}

func validateCategory(c Category) error {
	var errs shared.ValidationErrors
	if strings.TrimSpace(c.Code) == "" {
		errs.Add("code", "código obrigatório")
	}
	if strings.TrimSpace(c.Name) == "" {
		errs.Add("name", "nome obrigatório")
	}
	if !c.Kind.Valid() {
		errs.Add("kind", "natureza inválida")
	}
	return errs.Err()
}

func validateCounterparty(c Counterparty) error {
	var errs shared.ValidationErrors
	if strings.TrimSpace(c.Name) == "" {
		errs.Add("name", "nome obrigatório")
	}
	if len(c.Document) > 20 {
		errs.Add("document", "documento muito longo")
	}
	return errs.Err()
}
