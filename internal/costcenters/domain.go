package costcenters

import (
	"fmt"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Type classifies an organisational unit.
type Type string

const (
	TypeHeadquarters Type = "HEADQUARTERS"
	TypeCongregation Type = "CONGREGATION"
	TypeDepartment   Type = "DEPARTMENT"
	TypeOther        Type = "OTHER"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeHeadquarters, TypeCongregation, TypeDepartment, TypeOther:
		return true
	}
	return false
}

// Label returns the display name.
func (t Type) Label() string {
	switch t {
	case TypeHeadquarters:
		return "Sede"
	case TypeCongregation:
		return "Congregação"
	case TypeDepartment:
		return "Departamento"
	default:
		return "Outro"
	}
}

// CostCenter owns entries, closings and apportionment rules.
type CostCenter struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Type      Type       `json:"type"`
	Active    bool       `json:"active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Usable reports whether new records may reference the cost center.
func (c CostCenter) Usable() bool {
	return c.Active && c.DeletedAt == nil
}

// IsHeadquarters reports whether the cost center absorbs congregation closings.
func (c CostCenter) IsHeadquarters() bool {
	return c.Type == TypeHeadquarters
}

// Input carries create/update data.
type Input struct {
	Name   string
	Type   Type
	Active bool
}

// Validate checks required fields.
func (in Input) Validate() error {
	var errs shared.ValidationErrors
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs.Add("name", "nome obrigatório")
	} else if len(name) > 120 {
		errs.Add("name", "nome muito longo")
	}
	if !in.Type.Valid() {
		errs.Add("type", "tipo inválido")
	}
	return errs.Err()
}

// ErrNotFound is returned for unknown or soft-deleted ids.
var ErrNotFound = fmt.Errorf("costcenters: %w", shared.ErrNotFound)
