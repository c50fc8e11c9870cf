package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type accessResolver interface {
	Access(ctx context.Context, userID int64) (rbac.Access, error)
}

type costCenterReader interface {
	Get(ctx context.Context, id int64) (costcenters.CostCenter, error)
}

// Service administers accounts. Every operation requires users.manage.
type Service struct {
	repo        Repository
	costCenters costCenterReader
	access      accessResolver
	audit       shared.AuditSink
	cost        int
}

// NewService constructs a Service.
func NewService(repo Repository, costCenters costCenterReader, access accessResolver, audit shared.AuditSink) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, costCenters: costCenters, access: access, audit: audit, cost: bcrypt.DefaultCost}
}

// HashPassword hashes pw with bcrypt.
func HashPassword(pw string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(b), nil
}

// List returns every account.
func (s *Service) List(ctx context.Context, actorID int64) ([]User, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// Create registers an account with an initial password.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (User, error) {
	in.normalize()
	if err := in.Validate(true); err != nil {
		return User{}, err
	}
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return User{}, err
	}
	if err := s.checkCostCenter(ctx, in.CostCenterID); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return User{}, err
	}
	u, err := s.repo.Insert(ctx, in, hash)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "user.create", u)
	return u, nil
}

// Update changes profile, role, scope and activation.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (User, error) {
	in.normalize()
	if err := in.Validate(false); err != nil {
		return User{}, err
	}
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return User{}, err
	}
	if id == actorID && (!in.Active || in.Role != rbac.RoleAdministrator) {
		return User{}, ErrSelfLockout
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return User{}, err
	}
	if err := s.checkCostCenter(ctx, in.CostCenterID); err != nil {
		return User{}, err
	}
	u, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "user.update", u)
	return u, nil
}

// Deactivate blocks sign-in for an account.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) (User, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return User{}, err
	}
	if id == actorID {
		return User{}, ErrSelfLockout
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	in := Input{Email: current.Email, Name: current.Name, Role: current.Role, CostCenterID: current.CostCenterID}
	u, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "user.deactivate", u)
	return u, nil
}

// ResetPassword sets a new password chosen by an administrator.
func (s *Service) ResetPassword(ctx context.Context, actorID, id int64, password string) error {
	if err := ValidatePassword(password); err != nil {
		return shared.Invalid("password", err.Error())
	}
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, id, hash); err != nil {
		return err
	}
	s.audit.Log(ctx, shared.AuditLog{ActorID: actorID, Action: "user.password_reset", Entity: "user", EntityID: fmt.Sprint(id)})
	return nil
}

func (s *Service) checkCostCenter(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	cc, err := s.costCenters.Get(ctx, *id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Invalid("cost_center_id", "centro de custo inexistente")
		}
		return err
	}
	if !cc.Usable() {
		return shared.Invalid("cost_center_id", "centro de custo inativo")
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID int64) error {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return err
	}
	if !access.Can(shared.CapUsersManage) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, u User) {
	details := map[string]any{"email": u.Email, "role": string(u.Role), "active": u.Active}
	if u.CostCenterID != nil {
		details["cost_center_id"] = *u.CostCenterID
	}
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprint(u.ID),
		Details:  details,
	})
}
