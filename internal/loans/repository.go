package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists loans.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, costCenterIDs []int64, status Status) ([]Loan, error)
	Get(ctx context.Context, id int64) (Loan, error)
	Insert(ctx context.Context, in Input, actorID int64) (Loan, error)
	Payments(ctx context.Context, loanID int64) ([]Payment, error)
}

// TxRepository is valid only inside WithTx.
type TxRepository interface {
	LockLoan(ctx context.Context, id int64) (Loan, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdateBalance(ctx context.Context, id int64, paid decimal.Decimal, status Status, settledAt *time.Time) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("loans: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{q: tx})
	})
}

const loanColumns = `id, cost_center_id, direction, counterparty, principal, paid, issued_on, due_on,
status, notes, created_by, created_at, settled_at`

func (r *pgRepository) List(ctx context.Context, costCenterIDs []int64, status Status) ([]Loan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans
WHERE ($1::bigint[] IS NULL OR cost_center_id = ANY($1)) AND ($2 = '' OR status = $2)
ORDER BY status, issued_on DESC, id DESC`, costCenterIDs, string(status))
	if err != nil {
		return nil, db.Classify("loans: list", err)
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, db.Classify("loans: scan", err)
		}
		out = append(out, l)
	}
	return out, db.Classify("loans: list", rows.Err())
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Loan, error) {
	return getLoan(ctx, r.pool, id, false)
}

func (r *pgRepository) Insert(ctx context.Context, in Input, actorID int64) (Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx, `INSERT INTO loans
  (cost_center_id, direction, counterparty, principal, paid, issued_on, due_on, status, notes, created_by)
VALUES ($1, $2, $3, $4, 0, $5, $6, 'OPEN', $7, $8) RETURNING `+loanColumns,
		in.CostCenterID, string(in.Direction), in.Counterparty, db.Numeric(in.Principal),
		in.IssuedOn, in.DueOn, in.Notes, actorID))
	if err != nil {
		return Loan{}, db.Classify("loans: insert", err)
	}
	return l, nil
}

func (r *pgRepository) Payments(ctx context.Context, loanID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, loan_id, amount, paid_on, entry_id, created_by, created_at
FROM loan_payments WHERE loan_id = $1 ORDER BY paid_on, id`, loanID)
	if err != nil {
		return nil, db.Classify("loans: payments", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var (
			p      Payment
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &amount, &p.PaidOn, &p.EntryID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, db.Classify("loans: scan payment", err)
		}
		p.Amount = db.Decimal(amount)
		out = append(out, p)
	}
	return out, db.Classify("loans: payments", rows.Err())
}

type pgTx struct {
	q db.Querier
}

func (t pgTx) LockLoan(ctx context.Context, id int64) (Loan, error) {
	return getLoan(ctx, t.q, id, true)
}

func (t pgTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO loan_payments (loan_id, amount, paid_on, entry_id, created_by)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.LoanID, db.Numeric(p.Amount), p.PaidOn, p.EntryID, p.CreatedBy).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, db.Classify("loans: insert payment", err)
	}
	return p, nil
}

func (t pgTx) UpdateBalance(ctx context.Context, id int64, paid decimal.Decimal, status Status, settledAt *time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE loans SET paid = $2, status = $3, settled_at = $4 WHERE id = $1`,
		id, db.Numeric(paid), string(status), settledAt)
	return db.Classify("loans: update balance", err)
}

func getLoan(ctx context.Context, q db.Querier, id int64, forUpdate bool) (Loan, error) {
	sql := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	l, err := scanLoan(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, ErrLoanNotFound
	}
	if err != nil {
		return Loan{}, db.Classify("loans: get", err)
	}
	return l, nil
}

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		l                 Loan
		direction, status string
		principal, paid   pgtype.Numeric
		notes             pgtype.Text
	)
	if err := row.Scan(&l.ID, &l.CostCenterID, &direction, &l.Counterparty, &principal, &paid, &l.IssuedOn, &l.DueOn,
		&status, &notes, &l.CreatedBy, &l.CreatedAt, &l.SettledAt); err != nil {
		return Loan{}, err
	}
	l.Direction = Direction(direction)
	l.Status = Status(status)
	l.Principal = db.Decimal(principal)
	l.Paid = db.Decimal(paid)
	l.Notes = notes.String
	return l, nil
}
