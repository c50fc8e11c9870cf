package recurring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type entryWriter interface {
	Create(ctx context.Context, actorID int64, in ledger.Input) (ledger.Entry, error)
	Delete(ctx context.Context, actorID, id int64) error
}

type accessResolver interface {
	Access(ctx context.Context, userID int64) (rbac.Access, error)
}

// Service manages recurring expenses.
type Service struct {
	repo    Repository
	entries entryWriter
	access  accessResolver
	audit   shared.AuditSink
	clock   shared.Clock
}

// NewService constructs a Service.
func NewService(repo Repository, entries entryWriter, access accessResolver, audit shared.AuditSink, clock shared.Clock) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Service{repo: repo, entries: entries, access: access, audit: audit, clock: clock}
}

// List returns the recurring expenses visible to the actor.
func (s *Service) List(ctx context.Context, actorID int64) ([]Expense, error) {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, access.VisibleCostCenters())
}

// Create registers a recurring expense.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Expense, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	if err := s.authorize(ctx, actorID, in.CostCenterID); err != nil {
		return Expense{}, err
	}
	e, err := s.repo.Insert(ctx, in)
	if err != nil {
		return Expense{}, err
	}
	s.record(ctx, actorID, "recurring.create", "recurring_expense", e.ID, map[string]any{"amount": e.Amount.StringFixed(2)})
	return e, nil
}

// Update replaces a recurring expense. Occurrences already generated keep
// their amount.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Expense, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if err := s.authorize(ctx, actorID, current.CostCenterID); err != nil {
		return Expense{}, err
	}
	if in.CostCenterID != current.CostCenterID {
		if err := s.authorize(ctx, actorID, in.CostCenterID); err != nil {
			return Expense{}, err
		}
	}
	e, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Expense{}, err
	}
	s.record(ctx, actorID, "recurring.update", "recurring_expense", e.ID, nil)
	return e, nil
}

// Deactivate stops future generation for an expense.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) (Expense, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if err := s.authorize(ctx, actorID, current.CostCenterID); err != nil {
		return Expense{}, err
	}
	if !current.Active {
		return current, nil
	}
	e, err := s.repo.Update(ctx, id, Input{
		CostCenterID:    current.CostCenterID,
		CategoryID:      current.CategoryID,
		PaymentMethodID: current.PaymentMethodID,
		Description:     current.Description,
		Amount:          current.Amount,
		DueDay:          current.DueDay,
		Active:          false,
	})
	if err != nil {
		return Expense{}, err
	}
	s.record(ctx, actorID, "recurring.deactivate", "recurring_expense", e.ID, nil)
	return e, nil
}

// GenerateOccurrences creates the missing occurrences of every active expense
// for the month and returns how many were created. Running it again for the
// same month creates nothing.
func (s *Service) GenerateOccurrences(ctx context.Context, year, month int) (int, error) {
	if err := validateMonth(year, month); err != nil {
		return 0, err
	}
	expenses, err := s.repo.Active(ctx)
	if err != nil {
		return 0, err
	}
	loc := s.clock.Now().Location()
	created := 0
	for _, e := range expenses {
		ok, err := s.repo.InsertOccurrence(ctx, NewOccurrence(e, year, month, loc))
		if err != nil {
			return created, fmt.Errorf("recurring: generate %d: %w", e.ID, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// GenerateCurrent generates the occurrences of the clock's current month.
func (s *Service) GenerateCurrent(ctx context.Context) (int, error) {
	now := s.clock.Now()
	return s.GenerateOccurrences(ctx, now.Year(), int(now.Month()))
}

// Occurrences lists the month's occurrences visible to the actor.
func (s *Service) Occurrences(ctx context.Context, actorID int64, year, month int) ([]Occurrence, error) {
	if err := validateMonth(year, month); err != nil {
		return nil, err
	}
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.Occurrences(ctx, year, month, access.VisibleCostCenters())
}

// Pay records the expense entry for an open occurrence and links it. A zero
// paidOn means today.
func (s *Service) Pay(ctx context.Context, occurrenceID int64, paidOn time.Time, actorID int64) (Occurrence, error) {
	occ, err := s.repo.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return Occurrence{}, err
	}
	if err := s.authorize(ctx, actorID, occ.CostCenterID); err != nil {
		return Occurrence{}, err
	}
	if occ.Status != StatusOpen {
		return Occurrence{}, ErrOccurrenceResolved
	}
	expense, err := s.repo.Get(ctx, occ.RecurringID)
	if err != nil {
		return Occurrence{}, err
	}
	now := s.clock.Now()
	if paidOn.IsZero() {
		paidOn = shared.DateOnly(now)
	}
	entry, err := s.entries.Create(ctx, actorID, ledger.Input{
		Kind:            masterdata.KindExpense,
		Date:            paidOn,
		Amount:          occ.Amount,
		CostCenterID:    occ.CostCenterID,
		PaymentMethodID: expense.PaymentMethodID,
		CategoryID:      expense.CategoryID,
		Description:     fmt.Sprintf("%s (%02d/%d)", occ.Description, occ.Month, occ.Year),
	})
	if err != nil {
		return Occurrence{}, err
	}
	ok, err := s.repo.MarkPaid(ctx, occ.ID, entry.ID, actorID, now)
	if err == nil && !ok {
		err = shared.Conflict("recurring: occurrence %d resolved concurrently", occ.ID)
	}
	if err != nil {
		// The entry must not outlive a failed link.
		if delErr := s.entries.Delete(ctx, actorID, entry.ID); delErr != nil {
			return Occurrence{}, fmt.Errorf("%w (entry %d left behind: %v)", err, entry.ID, delErr)
		}
		return Occurrence{}, err
	}
	s.record(ctx, actorID, "recurring.pay", "recurring_occurrence", occ.ID, map[string]any{"entry_id": entry.ID})
	return s.repo.GetOccurrence(ctx, occ.ID)
}

// Skip closes an open occurrence without paying it.
func (s *Service) Skip(ctx context.Context, occurrenceID, actorID int64, reason string) (Occurrence, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Occurrence{}, shared.Invalid("reason", "motivo obrigatório")
	}
	occ, err := s.repo.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return Occurrence{}, err
	}
	if err := s.authorize(ctx, actorID, occ.CostCenterID); err != nil {
		return Occurrence{}, err
	}
	if occ.Status != StatusOpen {
		return Occurrence{}, ErrOccurrenceResolved
	}
	ok, err := s.repo.MarkSkipped(ctx, occ.ID, actorID, reason, s.clock.Now())
	if err != nil {
		return Occurrence{}, err
	}
	if !ok {
		return Occurrence{}, ErrOccurrenceResolved
	}
	s.record(ctx, actorID, "recurring.skip", "recurring_occurrence", occ.ID, map[string]any{"reason": reason})
	return s.repo.GetOccurrence(ctx, occ.ID)
}

func (s *Service) authorize(ctx context.Context, actorID, costCenterID int64) error {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return err
	}
	if !access.CanAccessCostCenter(costCenterID) || !access.Can(shared.CapRecurringEdit) {
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
