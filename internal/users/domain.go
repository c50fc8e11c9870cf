// Package users administers treasury accounts: who can sign in, with which
// role and, for local treasurers, for which cost center.
package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// User is a treasury account.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         rbac.Role  `json:"role"`
	CostCenterID *int64     `json:"cost_center_id,omitempty"`
	Active       bool       `json:"active"`
	PasswordHash string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Input carries account data. Password is only read on create.
type Input struct {
	Email        string
	Name         string
	Role         rbac.Role
	CostCenterID *int64
	Active       bool
	Password     string
}

func (in *Input) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
}

// Validate checks the fields. creating also requires a password.
func (in Input) Validate(creating bool) error {
	var errs shared.ValidationErrors
	if in.Email == "" {
		errs.Add("email", "e-mail obrigatório")
	} else if _, err := mail.ParseAddress(in.Email); err != nil || len(in.Email) > 160 {
		errs.Add("email", "e-mail inválido")
	}
	if in.Name == "" {
		errs.Add("name", "nome obrigatório")
	} else if len(in.Name) > 120 {
		errs.Add("name", "nome muito longo")
	}
	if _, err := rbac.ParseRole(string(in.Role)); err != nil {
		errs.Add("role", "perfil inválido")
	} else if in.Role == rbac.RoleTreasurerLocal && in.CostCenterID == nil {
		errs.Add("cost_center_id", "tesoureiro local precisa de um centro de custo")
	} else if in.Role != rbac.RoleTreasurerLocal && in.CostCenterID != nil {
		errs.Add("cost_center_id", "apenas tesoureiros locais são vinculados a um centro de custo")
	}
	if creating {
		if err := ValidatePassword(in.Password); err != nil {
			errs.Add("password", err.Error())
		}
	}
	return errs.Err()
}

// ValidatePassword enforces the password policy.
func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return fmt.Errorf("senha deve ter ao menos %d caracteres", MinPasswordLength)
	}
	if len(pw) > 72 {
		return fmt.Errorf("senha deve ter no máximo 72 caracteres")
	}
	return nil
}

var (
	// ErrUserNotFound is returned for unknown ids or e-mails.
	ErrUserNotFound = fmt.Errorf("users: user %w", shared.ErrNotFound)
	// ErrEmailTaken is returned when another account uses the e-mail.
	ErrEmailTaken error = shared.ValidationError{Field: "email", Message: "e-mail já cadastrado"}
	// ErrSelfLockout is returned when an administrator would remove their own access.
	ErrSelfLockout error = shared.ValidationError{Field: "user", Message: "você não pode remover o próprio acesso de administrador"}
)
