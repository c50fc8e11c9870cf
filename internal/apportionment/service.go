package apportionment

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Service manages apportionment rules.
type Service struct {
	repo  Repository
	audit shared.AuditSink
	opts  Options
}

// NewService constructs a Service.
func NewService(repo Repository, audit shared.AuditSink, opts Options) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, audit: audit, opts: opts}
}

// Options exposes the configured computation options.
func (s *Service) Options() Options {
	return s.opts
}

// ListRules returns rules for an origin, or every rule when originID is zero.
func (s *Service) ListRules(ctx context.Context, originID int64) ([]Rule, error) {
	return s.repo.ListRules(ctx, originID)
}

// CreateRule validates and stores a rule.
func (s *Service) CreateRule(ctx context.Context, actorID int64, in RuleInput) (Rule, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return Rule{}, err
	}
	rule, err := s.repo.InsertRule(ctx, in)
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, actorID, "apportionment.rule.create", rule)
	return rule, nil
}

// UpdateRule replaces a rule's data. Existing items keep their snapshot values.
func (s *Service) UpdateRule(ctx context.Context, actorID, id int64, in RuleInput) (Rule, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return Rule{}, err
	}
	rule, err := s.repo.UpdateRule(ctx, id, in)
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, actorID, "apportionment.rule.update", rule)
	return rule, nil
}

// Deactivate stops a rule from applying to future approvals.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) (Rule, error) {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if !rule.Active {
		return rule, nil
	}
	rule, err = s.repo.UpdateRule(ctx, id, RuleInput{
		OriginID:      rule.OriginID,
		DestinationID: rule.DestinationID,
		Percentage:    rule.Percentage,
		Description:   rule.Description,
		Active:        false,
	})
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, actorID, "apportionment.rule.deactivate", rule)
	return rule, nil
}

// Preview simulates the shares an origin would transfer for the given totals.
func (s *Service) Preview(ctx context.Context, originID int64, income, expense decimal.Decimal) (Result, error) {
	rules, err := s.repo.ListRules(ctx, originID)
	if err != nil {
		return Result{}, err
	}
	return Compute(BaseFor(income, expense, s.opts.Base), rules, s.opts), nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, rule Rule) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "apportionment_rule",
		EntityID: strconv.FormatInt(rule.ID, 10),
		Details: map[string]any{
			"origin_id":      rule.OriginID,
			"destination_id": rule.DestinationID,
			"percentage":     rule.Percentage.String(),
			"active":         rule.Active,
		},
	})
}
