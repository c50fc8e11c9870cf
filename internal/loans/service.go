package loans

import (
	"context"
	"fmt"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
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

// Service manages loans and their repayments.
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

// List returns the loans visible to the actor. An empty status lists all.
func (s *Service) List(ctx context.Context, actorID int64, status Status) ([]Loan, error) {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, access.VisibleCostCenters(), status)
}

// Get returns a loan with its payments.
func (s *Service) Get(ctx context.Context, actorID, id int64) (Loan, []Payment, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return Loan{}, nil, err
	}
	if err := s.authorize(ctx, actorID, l.CostCenterID, false); err != nil {
		return Loan{}, nil, err
	}
	payments, err := s.repo.Payments(ctx, id)
	if err != nil {
		return Loan{}, nil, err
	}
	return l, payments, nil
}

// Create registers a new open loan.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Loan, error) {
	in.Counterparty = strings.TrimSpace(in.Counterparty)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.IssuedOn.IsZero() {
		in.IssuedOn = shared.DateOnly(s.clock.Now())
	}
	if err := in.Validate(); err != nil {
		return Loan{}, err
	}
	if err := s.authorize(ctx, actorID, in.CostCenterID, true); err != nil {
		return Loan{}, err
	}
	l, err := s.repo.Insert(ctx, in, actorID)
	if err != nil {
		return Loan{}, err
	}
	s.record(ctx, actorID, "loan.create", l.ID, map[string]any{
		"direction": string(l.Direction),
		"principal": l.Principal.StringFixed(2),
	})
	return l, nil
}

// RecordPayment applies a repayment. Overpayment is rejected; a payment that
// brings the balance to zero settles the loan.
func (s *Service) RecordPayment(ctx context.Context, actorID, loanID int64, in PaymentInput) (Loan, Payment, error) {
	if err := in.Validate(); err != nil {
		return Loan{}, Payment{}, err
	}
	current, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, Payment{}, err
	}
	if err := s.authorize(ctx, actorID, current.CostCenterID, true); err != nil {
		return Loan{}, Payment{}, err
	}
	if err := checkPayable(current, in); err != nil {
		return Loan{}, Payment{}, err
	}

	var entryID *int64
	if in.CreateEntry {
		entry, err := s.entries.Create(ctx, actorID, ledger.Input{
			Kind:            current.Direction.EntryKind(),
			Date:            in.PaidOn,
			Amount:          in.Amount,
			CostCenterID:    current.CostCenterID,
			PaymentMethodID: in.PaymentMethodID,
			CategoryID:      in.CategoryID,
			Description:     fmt.Sprintf("Empréstimo #%d - %s", current.ID, current.Counterparty),
		})
		if err != nil {
			return Loan{}, Payment{}, err
		}
		entryID = &entry.ID
	}

	var (
		loan    Loan
		payment Payment
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := checkPayable(l, in); err != nil {
			return err
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			LoanID:    l.ID,
			Amount:    in.Amount,
			PaidOn:    in.PaidOn,
			EntryID:   entryID,
			CreatedBy: actorID,
		})
		if err != nil {
			return err
		}
		l.Paid = l.Paid.Add(in.Amount)
		if !l.Balance().IsPositive() {
			now := s.clock.Now()
			l.Status = StatusSettled
			l.SettledAt = &now
		}
		if err := tx.UpdateBalance(ctx, l.ID, l.Paid, l.Status, l.SettledAt); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		if entryID != nil {
			if delErr := s.entries.Delete(ctx, actorID, *entryID); delErr != nil {
				return Loan{}, Payment{}, fmt.Errorf("%w (entry %d left behind: %v)", err, *entryID, delErr)
			}
		}
		return Loan{}, Payment{}, err
	}

	details := map[string]any{"amount": in.Amount.StringFixed(2), "balance": loan.Balance().StringFixed(2)}
	if entryID != nil {
		details["entry_id"] = *entryID
	}
	s.record(ctx, actorID, "loan.payment", loan.ID, details)
	if loan.Status == StatusSettled {
		s.record(ctx, actorID, "loan.settle", loan.ID, nil)
	}
	return loan, payment, nil
}

func checkPayable(l Loan, in PaymentInput) error {
	if l.Status == StatusSettled {
		return ErrLoanSettled
	}
	if in.Amount.GreaterThan(l.Balance()) {
		return ErrOverpayment
	}
	if in.PaidOn.Before(l.IssuedOn) {
		return shared.Invalid("paid_on", "pagamento anterior à data do empréstimo")
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, actorID, costCenterID int64, edit bool) error {
	access, err := s.access.Access(ctx, actorID)
	if err != nil {
		return err
	}
	if !access.CanAccessCostCenter(costCenterID) || (edit && !access.Can(shared.CapLoansEdit)) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, details map[string]any) {
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "loan",
		EntityID: fmt.Sprint(id),
		Details:  details,
		At:       s.clock.Now(),
	})
}
