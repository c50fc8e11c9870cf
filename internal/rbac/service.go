package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// ErrUnknownUser is returned when no user row matches.
var ErrUnknownUser = fmt.Errorf("rbac: user %w", shared.ErrNotFound)

// Authorizer answers the two questions the closing workflow asks.
type Authorizer interface {
	HasRole(ctx context.Context, userID int64, role Role) (bool, error)
	CanAccessCostCenter(ctx context.Context, userID, costCenterID int64) (bool, error)
}

// AccessLoader resolves a user's authorisation profile.
type AccessLoader interface {
	Access(ctx context.Context, userID int64) (Access, error)
}

// Service implements Authorizer on top of an AccessLoader.
type Service struct {
	loader AccessLoader
}

// NewService constructs a Service backed by the users table.
func NewService(q db.Querier) *Service {
	return &Service{loader: pgLoader{q: q}}
}

// NewServiceWithLoader constructs a Service from any AccessLoader.
func NewServiceWithLoader(loader AccessLoader) *Service {
	return &Service{loader: loader}
}

// Access returns the profile of userID. Unknown users get an inactive profile.
func (s *Service) Access(ctx context.Context, userID int64) (Access, error) {
	if userID <= 0 {
		return Access{}, nil
	}
	access, err := s.loader.Access(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return Access{UserID: userID}, nil
	}
	return access, err
}

// HasRole reports whether the user holds role or a role that includes it.
func (s *Service) HasRole(ctx context.Context, userID int64, role Role) (bool, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return false, err
	}
	return access.HasRole(role), nil
}

// CanAccessCostCenter reports whether the user may see or operate the cost center.
func (s *Service) CanAccessCostCenter(ctx context.Context, userID, costCenterID int64) (bool, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return false, err
	}
	return access.CanAccessCostCenter(costCenterID), nil
}

// Capabilities returns the user's granted capabilities.
func (s *Service) Capabilities(ctx context.Context, userID int64) ([]string, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !access.Active {
		return nil, nil
	}
	return access.Role.Capabilities(), nil
}

type pgLoader struct {
	q db.Querier
}

func (l pgLoader) Access(ctx context.Context, userID int64) (Access, error) {
	var (
		access Access
		role   string
	)
	err := l.q.QueryRow(ctx, `SELECT id, role, cost_center_id, active FROM users WHERE id = $1`, userID).
		Scan(&access.UserID, &role, &access.CostCenterID, &access.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Access{}, ErrUnknownUser
	}
	if err != nil {
		return Access{}, db.Classify("rbac: load access", err)
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return Access{}, shared.Persistence("rbac: load access", err)
	}
	access.Role = parsed
	return access, nil
}
