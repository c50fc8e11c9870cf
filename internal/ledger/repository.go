package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists ledger entries.
type Repository interface {
	List(ctx context.Context, filter Filter) ([]Entry, int, error)
	Totals(ctx context.Context, filter Filter) (Totals, error)
	Get(ctx context.Context, id int64) (Entry, error)
	Insert(ctx context.Context, in Input, actorID int64) (Entry, error)
	Update(ctx context.Context, id int64, in Input) (Entry, error)
	SoftDelete(ctx context.Context, id int64) error
	ApprovedClosingCovers(ctx context.Context, costCenterID int64, date time.Time) (bool, error)
	// WithCostCenterLock runs fn in one transaction holding the ledger lock of
	// every listed cost center, the same lock closing approval takes.
	WithCostCenterLock(ctx context.Context, costCenterIDs []int64, fn func(tx Repository) error) error
}

type pgRepository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool, q: pool}
}

const entryColumns = `e.id, e.kind, e.entry_date, e.amount, e.cost_center_id, cc.name,
e.payment_method_id, pm.name, pm.cash_box, e.category_id, ac.name,
e.member_id, e.supplier_id, e.description, e.included_in_closing, e.closing_id,
e.inclusion_date, e.created_by, e.created_at, e.updated_at, e.deleted_at`

const entryFrom = ` FROM ledger_entries e
JOIN cost_centers cc ON cc.id = e.cost_center_id
JOIN payment_methods pm ON pm.id = e.payment_method_id
JOIN account_categories ac ON ac.id = e.category_id`

func buildWhere(filter Filter) (string, []any) {
	clauses := []string{"e.deleted_at IS NULL"}
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.CostCenterID > 0 {
		add("e.cost_center_id = $%d", filter.CostCenterID)
	}
	if filter.CostCenterIDs != nil {
		add("e.cost_center_id = ANY($%d)", filter.CostCenterIDs)
	}
	if filter.Kind != "" {
		add("e.kind = $%d", string(filter.Kind))
	}
	if !filter.From.IsZero() {
		add("e.entry_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("e.entry_date <= $%d", filter.To)
	}
	if filter.Included != nil {
		add("e.included_in_closing = $%d", *filter.Included)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *pgRepository) List(ctx context.Context, filter Filter) ([]Entry, int, error) {
	where, args := buildWhere(filter)
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries e`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify("ledger: count", err)
	}
	limit := filter.PerPage
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)
	rows, err := r.q.Query(ctx, `SELECT `+entryColumns+entryFrom+where+
		fmt.Sprintf(` ORDER BY e.entry_date DESC, e.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.Classify("ledger: list", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, db.Classify("ledger: scan", err)
		}
		out = append(out, entry)
	}
	return out, total, db.Classify("ledger: list", rows.Err())
}

func (r *pgRepository) Totals(ctx context.Context, filter Filter) (Totals, error) {
	where, args := buildWhere(filter)
	var income, expense pgtype.Numeric
	err := r.q.QueryRow(ctx, `SELECT
  COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'INCOME'), 0),
  COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'EXPENSE'), 0)
FROM ledger_entries e`+where, args...).Scan(&income, &expense)
	if err != nil {
		return Totals{}, db.Classify("ledger: totals", err)
	}
	return Totals{Income: db.Decimal(income), Expense: db.Decimal(expense)}, nil
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Entry, error) {
	entry, err := scanEntry(r.q.QueryRow(ctx, `SELECT `+entryColumns+entryFrom+` WHERE e.id = $1 AND e.deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, db.Classify("ledger: get", err)
	}
	return entry, nil
}

func (r *pgRepository) Insert(ctx context.Context, in Input, actorID int64) (Entry, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO ledger_entries
  (kind, entry_date, amount, cost_center_id, payment_method_id, category_id, member_id, supplier_id, description, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		string(in.Kind), in.Date, db.Numeric(in.Amount), in.CostCenterID, in.PaymentMethodID, in.CategoryID,
		in.MemberID, in.SupplierID, strings.TrimSpace(in.Description), actorID).Scan(&id)
	if err != nil {
		return Entry{}, db.Classify("ledger: insert", err)
	}
	return r.Get(ctx, id)
}

func (r *pgRepository) Update(ctx context.Context, id int64, in Input) (Entry, error) {
	tag, err := r.q.Exec(ctx, `UPDATE ledger_entries
SET kind = $2, entry_date = $3, amount = $4, cost_center_id = $5, payment_method_id = $6,
    category_id = $7, member_id = $8, supplier_id = $9, description = $10, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL AND included_in_closing = FALSE`,
		id, string(in.Kind), in.Date, db.Numeric(in.Amount), in.CostCenterID, in.PaymentMethodID,
		in.CategoryID, in.MemberID, in.SupplierID, strings.TrimSpace(in.Description))
	if err != nil {
		return Entry{}, db.Classify("ledger: update", err)
	}
	if tag.RowsAffected() == 0 {
		return Entry{}, r.missingOrLocked(ctx, id)
	}
	return r.Get(ctx, id)
}

func (r *pgRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE ledger_entries SET deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL AND included_in_closing = FALSE`, id)
	if err != nil {
		return db.Classify("ledger: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrLocked(ctx, id)
	}
	return nil
}

func (r *pgRepository) missingOrLocked(ctx context.Context, id int64) error {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.IncludedInClosing {
		return ErrEntryLocked
	}
	return ErrEntryNotFound
}

func (r *pgRepository) ApprovedClosingCovers(ctx context.Context, costCenterID int64, date time.Time) (bool, error) {
	var covered bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM period_closings
WHERE cost_center_id = $1 AND status IN ('APPROVED', 'PROCESSED')
  AND $2::date BETWEEN start_date AND end_date)`, costCenterID, date).Scan(&covered)
	return covered, db.Classify("ledger: closing coverage", err)
}

func (r *pgRepository) WithCostCenterLock(ctx context.Context, costCenterIDs []int64, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fmt.Errorf("ledger: nested cost center lock")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := costcenters.LockLedger(ctx, tx, costCenterIDs...); err != nil {
			return err
		}
		return fn(&pgRepository{q: tx})
	})
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		kind, box string
		amount    pgtype.Numeric
	)
	err := row.Scan(&e.ID, &kind, &e.Date, &amount, &e.CostCenterID, &e.CostCenterName,
		&e.PaymentMethodID, &e.PaymentMethodName, &box, &e.CategoryID, &e.CategoryName,
		&e.MemberID, &e.SupplierID, &e.Description, &e.IncludedInClosing, &e.ClosingID,
		&e.InclusionDate, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = masterdata.Kind(kind)
	e.CashBox = masterdata.CashBox(box)
	e.Amount = db.Decimal(amount)
	return e, nil
}
