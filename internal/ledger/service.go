package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type costCenterReader interface {
	Get(ctx context.Context, id int64) (costcenters.CostCenter, error)
}

type masterdataReader interface {
	GetPaymentMethod(ctx context.Context, id int64) (masterdata.PaymentMethod, error)
	GetCategory(ctx context.Context, id int64) (masterdata.Category, error)
	GetCounterparty(ctx context.Context, party masterdata.Party, id int64) (masterdata.Counterparty, error)
}

type accessResolver interface {
	Access(ctx context.Context, userID int64) (rbac.Access, error)
}

// Service manages ledger entries.
type Service struct {
	repo        Repository
	costCenters costCenterReader
	masterdata  masterdataReader
	access      accessResolver
	audit       shared.AuditSink
}

// NewService constructs a Service.
func NewService(repo Repository, costCenters costCenterReader, md masterdataReader, access accessResolver, audit shared.AuditSink) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, costCenters: costCenters, masterdata: md, access: access, audit: audit}
}

// List returns one page of entries visible to the actor plus the totals of the whole filter.
func (s *Service) List(ctx context.Context, actorID int64, filter Filter) ([]Entry, Totals, shared.Pagination, error) {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return nil, Totals{}, shared.Pagination{}, err
	}
	if filter.CostCenterID > 0 && !access.CanAccessCostCenter(filter.CostCenterID) {
		return nil, Totals{}, shared.Pagination{}, shared.ErrForbidden
	}
	filter.CostCenterIDs = access.VisibleCostCenters()
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, Totals{}, shared.Pagination{}, err
	}
	totals, err := s.repo.Totals(ctx, filter)
	if err != nil {
		return nil, Totals{}, shared.Pagination{}, err
	}
	return entries, totals, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Get returns an entry the actor may see.
func (s *Service) Get(ctx context.Context, actorID, id int64) (Entry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if err := s.authorize(ctx, actorID, entry.CostCenterID); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Create validates and records a new entry.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Entry, error) {
	in = normalize(in)
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	if err := s.authorize(ctx, actorID, in.CostCenterID); err != nil {
		return Entry{}, err
	}
	if err := s.checkReferences(ctx, in); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.repo.WithCostCenterLock(ctx, []int64{in.CostCenterID}, func(tx Repository) error {
		if err := checkOpenPeriod(ctx, tx, in.CostCenterID, in.Date); err != nil {
			return err
		}
		var err error
		entry, err = tx.Insert(ctx, in, actorID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actorID, "entry.create", entry)
	return entry, nil
}

// Update replaces an entry that is not yet part of an approved closing.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Entry, error) {
	in = normalize(in)
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	current, err := s.Get(ctx, actorID, id)
	if err != nil {
		return Entry{}, err
	}
	if current.IncludedInClosing {
		return Entry{}, ErrEntryLocked
	}
	if in.CostCenterID != current.CostCenterID {
		if err := s.authorize(ctx, actorID, in.CostCenterID); err != nil {
			return Entry{}, err
		}
	}
	if err := s.checkReferences(ctx, in); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err = s.repo.WithCostCenterLock(ctx, lockSet(current.CostCenterID, in.CostCenterID), func(tx Repository) error {
		if err := checkOpenPeriod(ctx, tx, current.CostCenterID, current.Date); err != nil {
			return err
		}
		if err := checkOpenPeriod(ctx, tx, in.CostCenterID, in.Date); err != nil {
			return err
		}
		var err error
		entry, err = tx.Update(ctx, id, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actorID, "entry.update", entry)
	return entry, nil
}

// Delete soft-deletes an entry that is not yet part of an approved closing.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	current, err := s.Get(ctx, actorID, id)
	if err != nil {
		return err
	}
	if current.IncludedInClosing {
		return ErrEntryLocked
	}
	err = s.repo.WithCostCenterLock(ctx, []int64{current.CostCenterID}, func(tx Repository) error {
		if err := checkOpenPeriod(ctx, tx, current.CostCenterID, current.Date); err != nil {
			return err
		}
		return tx.SoftDelete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "entry.delete", current)
	return nil
}

func (s *Service) authorize(ctx context.Context, actorID, costCenterID int64) error {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return err
	}
	if !access.CanAccessCostCenter(costCenterID) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) checkReferences(ctx context.Context, in Input) error {
	var errs shared.ValidationErrors
	if cc, err := s.costCenters.Get(ctx, in.CostCenterID); err != nil {
		if !isNotFound(err) {
			return err
		}
		errs.Add("cost_center_id", "centro de custo inexistente")
	} else if !cc.Usable() {
		errs.Add("cost_center_id", "centro de custo inativo")
	}
	if pm, err := s.masterdata.GetPaymentMethod(ctx, in.PaymentMethodID); err != nil {
		if !isNotFound(err) {
			return err
		}
		errs.Add("payment_method_id", "forma de pagamento inexistente")
	} else if !pm.Usable() {
		errs.Add("payment_method_id", "forma de pagamento inativa")
	}
	if cat, err := s.masterdata.GetCategory(ctx, in.CategoryID); err != nil {
		if !isNotFound(err) {
			return err
		}
		errs.Add("category_id", "categoria inexistente")
	} else if !cat.Active {
		errs.Add("category_id", "categoria inativa")
	} else if cat.Kind != in.Kind {
		errs.Add("category_id", "categoria incompatível com o tipo do lançamento")
	}
	if in.MemberID != nil {
		if err := s.checkCounterparty(ctx, masterdata.PartyMember, *in.MemberID, "member_id", &errs); err != nil {
			return err
		}
	}
	if in.SupplierID != nil {
		if err := s.checkCounterparty(ctx, masterdata.PartySupplier, *in.SupplierID, "supplier_id", &errs); err != nil {
			return err
		}
	}
	return errs.Err()
}

// checkOpenPeriod must run under the cost center's ledger lock so a closing
// approved concurrently is either visible here or fails on the lock.
func checkOpenPeriod(ctx context.Context, tx Repository, costCenterID int64, date time.Time) error {
	covered, err := tx.ApprovedClosingCovers(ctx, costCenterID, date)
	if err != nil {
		return err
	}
	if covered {
		return ErrPeriodClosed
	}
	return nil
}

func lockSet(a, b int64) []int64 {
	if a == b {
		return []int64{a}
	}
	if a > b {
		a, b = b, a
	}
	return []int64{a, b}
}

func (s *Service) checkCounterparty(ctx context.Context, party masterdata.Party, id int64, field string, errs *shared.ValidationErrors) error {
	c, err := s.masterdata.GetCounterparty(ctx, party, id)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		errs.Add(field, "cadastro inexistente")
		return nil
	}
	if !c.Active {
		errs.Add(field, "cadastro inativo")
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, e Entry) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(e.ID, 10),
		Details: map[string]any{
			"kind":           string(e.Kind),
			"amount":         e.Amount.StringFixed(2),
			"date":           e.Date.Format("2006-01-02"),
			"cost_center_id": e.CostCenterID,
		},
	})
}

func normalize(in Input) Input {
	in.Description = strings.TrimSpace(in.Description)
	if !in.Date.IsZero() {
		in.Date = shared.DateOnly(in.Date)
	}
	return in
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
