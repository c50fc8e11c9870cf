package masterdata

import (
	"context"
	"strconv"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Service defines master data operations.
type Service interface {
	ListPaymentMethods(ctx context.Context, filters ListFilters) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id int64) (PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, actorID int64, p PaymentMethod) (PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, actorID, id int64, p PaymentMethod) (PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, actorID, id int64) error

	ListCategories(ctx context.Context, kind Kind, filters ListFilters) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, actorID int64, c Category) (Category, error)
	UpdateCategory(ctx context.Context, actorID, id int64, c Category) (Category, error)

	ListCounterparties(ctx context.Context, party Party, filters ListFilters) ([]Counterparty, error)
	GetCounterparty(ctx context.Context, party Party, id int64) (Counterparty, error)
	CreateCounterparty(ctx context.Context, actorID int64, c Counterparty) (Counterparty, error)
	UpdateCounterparty(ctx context.Context, actorID, id int64, c Counterparty) (Counterparty, error)
}

// service implements Service.
type service struct {
	repo  Repository
	audit shared.AuditSink
}

// NewService creates a new master data service.
func NewService(repo Repository, audit shared.AuditSink) Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &service{repo: repo, audit: audit}
}

// Payment method operations

func (s *service) ListPaymentMethods(ctx context.Context, filters ListFilters) ([]PaymentMethod, error) {
	filters.Search = strings.TrimSpace(filters.Search)
	return s.repo.ListPaymentMethods(ctx, filters)
}

func (s *service) GetPaymentMethod(ctx context.Context, id int64) (PaymentMethod, error) {
	if id <= 0 {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}
	return s.repo.GetPaymentMethod(ctx, id)
}

func (s *service) CreatePaymentMethod(ctx context.Context, actorID int64, p PaymentMethod) (PaymentMethod, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validatePaymentMethod(p); err != nil {
		return PaymentMethod{}, err
	}
	out, err := s.repo.CreatePaymentMethod(ctx, p)
	if err != nil {
		return PaymentMethod{}, err
	}
	s.record(ctx, actorID, "payment_method.create", "payment_method", out.ID, map[string]any{"name": out.Name, "cash_box": out.CashBox})
	return out, nil
}

func (s *service) UpdatePaymentMethod(ctx context.Context, actorID, id int64, p PaymentMethod) (PaymentMethod, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validatePaymentMethod(p); err != nil {
		return PaymentMethod{}, err
	}
	out, err := s.repo.UpdatePaymentMethod(ctx, id, p)
	if err != nil {
		return PaymentMethod{}, err
	}
	s.record(ctx, actorID, "payment_method.update", "payment_method", out.ID, map[string]any{"name": out.Name, "cash_box": out.CashBox, "active": out.Active})
	return out, nil
}

func (s *service) DeletePaymentMethod(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeletePaymentMethod(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "payment_method.delete", "payment_method", id, nil)
	return nil
}

// Category operations

func (s *service) ListCategories(ctx context.Context, kind Kind, filters ListFilters) ([]Category, error) {
	if kind != "" && !kind.Valid() {
		return nil, shared.Invalid("kind", "natureza inválida")
	}
	filters.Search = strings.TrimSpace(filters.Search)
	return s.repo.ListCategories(ctx, kind, filters)
}

func (s *service) GetCategory(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, ErrCategoryNotFound
	}
	return s.repo.GetCategory(ctx, id)
}

func (s *service) CreateCategory(ctx context.Context, actorID int64, c Category) (Category, error) {
	c.Code, c.Name = strings.TrimSpace(c.Code), strings.TrimSpace(c.Name)
	if err := validateCategory(c); err != nil {
		return Category{}, err
	}
	out, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, actorID, "category.create", "account_category", out.ID, map[string]any{"code": out.Code, "kind": out.Kind})
	return out, nil
}

func (s *service) UpdateCategory(ctx context.Context, actorID, id int64, c Category) (Category, error) {
	c.Code, c.Name = strings.TrimSpace(c.Code), strings.TrimSpace(c.Name)
	if err := validateCategory(c); err != nil {
		return Category{}, err
	}
	current, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, err
	}
	if current.Kind != c.Kind {
		// Historical entries rely on the category direction.
		return Category{}, shared.Invalid("kind", "a natureza da categoria não pode ser alterada")
	}
	out, err := s.repo.UpdateCategory(ctx, id, c)
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, actorID, "category.update", "account_category", out.ID, map[string]any{"code": out.Code, "active": out.Active})
	return out, nil
}

// Counterparty operations

func (s *service) ListCounterparties(ctx context.Context, party Party, filters ListFilters) ([]Counterparty, error) {
	filters.Search = strings.TrimSpace(filters.Search)
	return s.repo.ListCounterparties(ctx, party, filters)
}

func (s *service) GetCounterparty(ctx context.Context, party Party, id int64) (Counterparty, error) {
	if id <= 0 {
		return Counterparty{}, ErrCounterpartyNotFound
	}
	return s.repo.GetCounterparty(ctx, party, id)
}

func (s *service) CreateCounterparty(ctx context.Context, actorID int64, c Counterparty) (Counterparty, error) {
	c = normalizeCounterparty(c)
	if err := validateCounterparty(c); err != nil {
		return Counterparty{}, err
	}
	out, err := s.repo.CreateCounterparty(ctx, c)
	if err != nil {
		return Counterparty{}, err
	}
	s.record(ctx, actorID, string(out.Party)+".create", string(out.Party), out.ID, map[string]any{"name": out.Name})
	return out, nil
}

func (s *service) UpdateCounterparty(ctx context.Context, actorID, id int64, c Counterparty) (Counterparty, error) {
	c = normalizeCounterparty(c)
	if err := validateCounterparty(c); err != nil {
		return Counterparty{}, err
	}
	out, err := s.repo.UpdateCounterparty(ctx, id, c)
	if err != nil {
		return Counterparty{}, err
	}
	s.record(ctx, actorID, string(out.Party)+".update", string(out.Party), out.ID, map[string]any{"name": out.Name, "active": out.Active})
	return out, nil
}

func normalizeCounterparty(c Counterparty) Counterparty {
	c.Name = strings.TrimSpace(c.Name)
	c.Document = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.Document)
	c.Phone = strings.TrimSpace(c.Phone)
	return c
}

func (s *service) record(ctx context.Context, actorID int64, action, entity string, id int64, details map[string]any) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Details:  details,
	})
}
