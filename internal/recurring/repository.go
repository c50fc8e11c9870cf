package recurring

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists recurring expenses and their occurrences.
type Repository interface {
	List(ctx context.Context, costCenterIDs []int64) ([]Expense, error)
	Get(ctx context.Context, id int64) (Expense, error)
	Insert(ctx context.Context, in Input) (Expense, error)
	Update(ctx context.Context, id int64, in Input) (Expense, error)
	Active(ctx context.Context) ([]Expense, error)
	// InsertOccurrence reports false when the month already has an occurrence.
	InsertOccurrence(ctx context.Context, o Occurrence) (bool, error)
	Occurrences(ctx context.Context, year, month int, costCenterIDs []int64) ([]Occurrence, error)
	GetOccurrence(ctx context.Context, id int64) (Occurrence, error)
	// MarkPaid and MarkSkipped only touch OPEN occurrences and report whether one changed.
	MarkPaid(ctx context.Context, id, entryID, actorID int64, at time.Time) (bool, error)
	MarkSkipped(ctx context.Context, id, actorID int64, reason string, at time.Time) (bool, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const expenseColumns = `id, cost_center_id, category_id, payment_method_id, description, amount, due_day, active, created_at, updated_at`

func (r *pgRepository) List(ctx context.Context, costCenterIDs []int64) ([]Expense, error) {
	return r.queryExpenses(ctx, `SELECT `+expenseColumns+` FROM recurring_expenses
WHERE $1::bigint[] IS NULL OR cost_center_id = ANY($1) ORDER BY active DESC, due_day, description`, costCenterIDs)
}

func (r *pgRepository) Active(ctx context.Context) ([]Expense, error) {
	return r.queryExpenses(ctx, `SELECT `+expenseColumns+` FROM recurring_expenses WHERE active ORDER BY id`)
}

func (r *pgRepository) queryExpenses(ctx context.Context, sql string, args ...any) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("recurring: list", err)
	}
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, db.Classify("recurring: scan", err)
		}
		out = append(out, e)
	}
	return out, db.Classify("recurring: list", rows.Err())
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Expense, error) {
	e, err := scanExpense(r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM recurring_expenses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound
	}
	if err != nil {
		return Expense{}, db.Classify("recurring: get", err)
	}
	return e, nil
}

func (r *pgRepository) Insert(ctx context.Context, in Input) (Expense, error) {
	e, err := scanExpense(r.pool.QueryRow(ctx, `INSERT INTO recurring_expenses
  (cost_center_id, category_id, payment_method_id, description, amount, due_day, active)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+expenseColumns,
		in.CostCenterID, in.CategoryID, in.PaymentMethodID, strings.TrimSpace(in.Description),
		db.Numeric(in.Amount), in.DueDay, in.Active))
	if err != nil {
		return Expense{}, db.Classify("recurring: insert", err)
	}
	return e, nil
}

func (r *pgRepository) Update(ctx context.Context, id int64, in Input) (Expense, error) {
	e, err := scanExpense(r.pool.QueryRow(ctx, `UPDATE recurring_expenses
SET cost_center_id = $2, category_id = $3, payment_method_id = $4, description = $5,
    amount = $6, due_day = $7, active = $8, updated_at = NOW()
WHERE id = $1 RETURNING `+expenseColumns,
		id, in.CostCenterID, in.CategoryID, in.PaymentMethodID, strings.TrimSpace(in.Description),
		db.Numeric(in.Amount), in.DueDay, in.Active))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound
	}
	if err != nil {
		return Expense{}, db.Classify("recurring: update", err)
	}
	return e, nil
}

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e      Expense
		amount pgtype.Numeric
	)
	if err := row.Scan(&e.ID, &e.CostCenterID, &e.CategoryID, &e.PaymentMethodID, &e.Description,
		&amount, &e.DueDay, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Expense{}, err
	}
	e.Amount = db.Decimal(amount)
	return e, nil
}

func (r *pgRepository) InsertOccurrence(ctx context.Context, o Occurrence) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO recurring_occurrences
  (recurring_id, cost_center_id, description, year, month, due_date, amount, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (recurring_id, year, month) DO NOTHING`,
		o.RecurringID, o.CostCenterID, o.Description, o.Year, o.Month, o.DueDate, db.Numeric(o.Amount), string(o.Status))
	if err != nil {
		return false, db.Classify("recurring: insert occurrence", err)
	}
	return tag.RowsAffected() == 1, nil
}

const occurrenceColumns = `id, recurring_id, cost_center_id, description, year, month, due_date, amount, status,
entry_id, resolved_by, resolved_at, skip_reason`

func (r *pgRepository) Occurrences(ctx context.Context, year, month int, costCenterIDs []int64) ([]Occurrence, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+occurrenceColumns+` FROM recurring_occurrences
WHERE year = $1 AND month = $2 AND ($3::bigint[] IS NULL OR cost_center_id = ANY($3))
ORDER BY due_date, description`, year, month, costCenterIDs)
	if err != nil {
		return nil, db.Classify("recurring: occurrences", err)
	}
	defer rows.Close()
	var out []Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, db.Classify("recurring: scan occurrence", err)
		}
		out = append(out, o)
	}
	return out, db.Classify("recurring: occurrences", rows.Err())
}

func (r *pgRepository) GetOccurrence(ctx context.Context, id int64) (Occurrence, error) {
	o, err := scanOccurrence(r.pool.QueryRow(ctx, `SELECT `+occurrenceColumns+` FROM recurring_occurrences WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Occurrence{}, ErrOccurrenceNotFound
	}
	if err != nil {
		return Occurrence{}, db.Classify("recurring: get occurrence", err)
	}
	return o, nil
}

func (r *pgRepository) MarkPaid(ctx context.Context, id, entryID, actorID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE recurring_occurrences
SET status = 'PAID', entry_id = $2, resolved_by = $3, resolved_at = $4
WHERE id = $1 AND status = 'OPEN'`, id, entryID, actorID, at)
	if err != nil {
		return false, db.Classify("recurring: mark paid", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) MarkSkipped(ctx context.Context, id, actorID int64, reason string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE recurring_occurrences
SET status = 'SKIPPED', skip_reason = $2, resolved_by = $3, resolved_at = $4
WHERE id = $1 AND status = 'OPEN'`, id, reason, actorID, at)
	if err != nil {
		return false, db.Classify("recurring: mark skipped", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOccurrence(row pgx.Row) (Occurrence, error) {
	var (
		o      Occurrence
		status string
		amount pgtype.Numeric
		reason pgtype.Text
	)
	if err := row.Scan(&o.ID, &o.RecurringID, &o.CostCenterID, &o.Description, &o.Year, &o.Month, &o.DueDate,
		&amount, &status, &o.EntryID, &o.ResolvedBy, &o.ResolvedAt, &reason); err != nil {
		return Occurrence{}, err
	}
	o.Amount = db.Decimal(amount)
	o.Status = Status(status)
	o.SkipReason = reason.String
	return o, nil
}
