package costcenters

import (
	"context"
	"strconv"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Service manages cost centers.
type Service struct {
	repo  Repository
	audit shared.AuditSink
}

// NewService constructs a Service.
func NewService(repo Repository, audit shared.AuditSink) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, audit: audit}
}

// List returns the live cost centers.
func (s *Service) List(ctx context.Context) ([]CostCenter, error) {
	return s.repo.List(ctx, false)
}

// Get returns a cost center by id.
func (s *Service) Get(ctx context.Context, id int64) (CostCenter, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a cost center. Only one headquarters may exist.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (CostCenter, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return CostCenter{}, err
	}
	if err := s.ensureSingleHeadquarters(ctx, in.Type, 0); err != nil {
		return CostCenter{}, err
	}
	cc, err := s.repo.Insert(ctx, in)
	if err != nil {
		return CostCenter{}, err
	}
	s.record(ctx, actorID, "costcenter.create", cc)
	return cc, nil
}

// Update replaces a cost center's attributes.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (CostCenter, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return CostCenter{}, err
	}
	if err := s.ensureSingleHeadquarters(ctx, in.Type, id); err != nil {
		return CostCenter{}, err
	}
	cc, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return CostCenter{}, err
	}
	s.record(ctx, actorID, "costcenter.update", cc)
	return cc, nil
}

// Delete soft-deletes a cost center; historical entries keep their reference.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	cc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if cc.DeletedAt != nil {
		return ErrNotFound
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "costcenter.delete", cc)
	return nil
}

func (s *Service) ensureSingleHeadquarters(ctx context.Context, typ Type, excludeID int64) error {
	if typ != TypeHeadquarters {
		return nil
	}
	exists, err := s.repo.HasHeadquarters(ctx, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return shared.Invalid("type", "já existe uma sede cadastrada")
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, cc CostCenter) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "cost_center",
		EntityID: strconv.FormatInt(cc.ID, 10),
		Details:  map[string]any{"name": cc.Name, "type": string(cc.Type), "active": cc.Active},
	})
}
