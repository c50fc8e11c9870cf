package ushers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type accessResolver interface {
	Access(ctx context.Context, userID int64) (rbac.Access, error)
}

// Service manages ushers and rotations.
type Service struct {
	repo   Repository
	access accessResolver
	audit  shared.AuditSink
	clock  shared.Clock
}

// NewService constructs a Service.
func NewService(repo Repository, access accessResolver, audit shared.AuditSink, clock shared.Clock) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Service{repo: repo, access: access, audit: audit, clock: clock}
}

// List returns the ushers visible to the actor.
func (s *Service) List(ctx context.Context, actorID int64) ([]Usher, error) {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, access.VisibleCostCenters())
}

// Create registers an usher.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Usher, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Usher{}, err
	}
	if err := s.authorize(ctx, actorID, in.CostCenterID, true); err != nil {
		return Usher{}, err
	}
	u, err := s.repo.Insert(ctx, in)
	if err != nil {
		return Usher{}, err
	}
	s.record(ctx, actorID, "usher.create", "usher", u.ID, nil)
	return u, nil
}

// Update changes an usher, including activation.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Usher, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Usher{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Usher{}, err
	}
	if err := s.authorize(ctx, actorID, current.CostCenterID, true); err != nil {
		return Usher{}, err
	}
	if in.CostCenterID != current.CostCenterID {
		if err := s.authorize(ctx, actorID, in.CostCenterID, true); err != nil {
			return Usher{}, err
		}
	}
	u, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Usher{}, err
	}
	s.record(ctx, actorID, "usher.update", "usher", u.ID, map[string]any{"active": u.Active})
	return u, nil
}

// GenerateRotation replaces the schedule of the range with a round-robin
// rotation over the active ushers, continuing after whoever served last.
func (s *Service) GenerateRotation(ctx context.Context, actorID int64, in RotationInput) ([]Assignment, error) {
	in.From = shared.DateOnly(in.From)
	in.To = shared.DateOnly(in.To)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, in.CostCenterID, true); err != nil {
		return nil, err
	}
	dates := ServiceDates(in.From, in.To, in.Weekdays)
	if len(dates) == 0 {
		return nil, shared.Invalid("weekdays", "nenhum culto no período informado")
	}

	var out []Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		active, err := tx.ActiveForUpdate(ctx, in.CostCenterID)
		if err != nil {
			return err
		}
		if in.PerService > len(active) {
			return shared.Invalid("per_service", fmt.Sprintf("apenas %d porteiro(s) ativo(s) neste centro de custo", len(active)))
		}
		last, err := tx.LastAssignedBefore(ctx, in.CostCenterID, in.From)
		if err != nil {
			return err
		}
		out = Rotate(active, dates, in.PerService, StartAfter(active, last))
		if err := tx.DeleteAssignments(ctx, in.CostCenterID, in.From, in.To); err != nil {
			return err
		}
		return tx.InsertAssignments(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "usher.rotation", "cost_center", in.CostCenterID, map[string]any{
		"from":        in.From.Format("2006-01-02"),
		"to":          in.To.Format("2006-01-02"),
		"assignments": len(out),
	})
	return out, nil
}

// Schedule lists assignments of a cost center in [from, to].
func (s *Service) Schedule(ctx context.Context, actorID, costCenterID int64, from, to time.Time) ([]Assignment, error) {
	if err := s.authorize(ctx, actorID, costCenterID, false); err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = shared.DateOnly(s.clock.Now())
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}
	if to.Before(from) {
		return nil, shared.Invalid("period", "data inicial deve ser anterior ou igual à data final")
	}
	return s.repo.Schedule(ctx, costCenterID, from, to)
}

func (s *Service) authorize(ctx context.Context, actorID, costCenterID int64, edit bool) error {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return err
	}
	if !access.CanAccessCostCenter(costCenterID) || (edit && !access.Can(shared.CapUshersEdit)) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, details map[string]any) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprint(id),
		Details:  details,
		At:       s.clock.Now(),
	})
}
