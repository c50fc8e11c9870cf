package closing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository exposes read access and the transactional unit of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Closing, error)
	List(ctx context.Context, filter ListFilter) ([]Closing, error)
	Details(ctx context.Context, closingID int64) ([]Detail, error)
	Items(ctx context.Context, closingID int64) ([]apportionment.Item, error)
	Selectable(ctx context.Context) ([]Closing, error)
}

// TxRepository is valid only inside WithTx.
type TxRepository interface {
	LockCostCenter(ctx context.Context, id int64) (costcenters.CostCenter, error)
	LockClosing(ctx context.Context, id int64) (Closing, error)
	HasApprovedOverlap(ctx context.Context, costCenterID int64, start, end time.Time, excludeID int64) (bool, error)
	// HasProcessed reports whether any closing names closingID as its processor.
	HasProcessed(ctx context.Context, closingID int64) (bool, error)
	// EligibleEntries returns live entries of the cost center in range that are
	// not included, or are included by closingID.
	EligibleEntries(ctx context.Context, costCenterID int64, start, end time.Time, closingID int64) ([]EntryLine, error)
	InsertClosing(ctx context.Context, c Closing) (Closing, error)
	UpdateClosing(ctx context.Context, c Closing) error
	MarkEntriesIncluded(ctx context.Context, closingID int64, entryIDs []int64, at time.Time) (int64, error)
	ReleaseEntries(ctx context.Context, closingID int64) error
	InsertDetails(ctx context.Context, closingID int64, lines []EntryLine) error
	DeleteDetails(ctx context.Context, closingID int64) error
	ActiveRules(ctx context.Context, originID int64) ([]apportionment.Rule, error)
	InsertItems(ctx context.Context, items []apportionment.Item) error
	DeleteItems(ctx context.Context, closingID int64) error
	ItemsForClosing(ctx context.Context, closingID int64) ([]apportionment.Item, error)
}

// PGRepository implements Repository with pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("closing: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{q: tx})
	})
}

const closingColumns = `c.id, c.cost_center_id, cc.name, cc.type, c.start_date, c.end_date,
c.total_income, c.total_expense, c.income_physical, c.income_digital, c.expense_physical, c.expense_digital,
c.entry_count, c.total_apportionment, c.total_received, c.final_balance, c.status, c.notes,
c.created_by, c.created_at, c.submitted_by, c.submitted_at, c.approved_by, c.approved_at,
c.rejected_by, c.rejected_at, c.rejection_reason, c.processed_by_closing_id, c.processed_at, c.updated_at`

const closingFrom = ` FROM period_closings c JOIN cost_centers cc ON cc.id = c.cost_center_id`

func (r *PGRepository) Get(ctx context.Context, id int64) (Closing, error) {
	return getClosing(ctx, r.pool, id, false)
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Closing, error) {
	clauses := []string{"TRUE"}
	var args []any
	if filter.CostCenterID > 0 {
		args = append(args, filter.CostCenterID)
		clauses = append(clauses, fmt.Sprintf("c.cost_center_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		clauses = append(clauses, fmt.Sprintf("(EXTRACT(YEAR FROM c.start_date) = $%[1]d OR EXTRACT(YEAR FROM c.end_date) = $%[1]d)", len(args)))
	}
	return queryClosings(ctx, r.pool, `SELECT `+closingColumns+closingFrom+
		` WHERE `+strings.Join(clauses, " AND ")+` ORDER BY c.start_date DESC, c.id DESC LIMIT 500`, args...)
}

func (r *PGRepository) Selectable(ctx context.Context) ([]Closing, error) {
	return queryClosings(ctx, r.pool, `SELECT `+closingColumns+closingFrom+`
WHERE c.status = 'APPROVED' AND cc.type <> 'HEADQUARTERS' AND c.processed_by_closing_id IS NULL
ORDER BY cc.name, c.start_date`)
}

func (r *PGRepository) Details(ctx context.Context, closingID int64) ([]Detail, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, closing_id, entry_id, kind, entry_date, amount, category_id, category_name,
  payment_method_id, payment_method_name, cash_box, description
FROM closing_details WHERE closing_id = $1 ORDER BY entry_date, entry_id`, closingID)
	if err != nil {
		return nil, db.Classify("closing: details", err)
	}
	defer rows.Close()
	var out []Detail
	for rows.Next() {
		var (
			d         Detail
			kind, box string
			amount    pgtype.Numeric
		)
		if err := rows.Scan(&d.ID, &d.ClosingID, &d.EntryID, &kind, &d.Date, &amount, &d.CategoryID, &d.CategoryName,
			&d.PaymentMethodID, &d.PaymentMethodName, &box, &d.Description); err != nil {
			return nil, db.Classify("closing: scan detail", err)
		}
		d.Kind, d.CashBox, d.Amount = masterdata.Kind(kind), masterdata.CashBox(box), db.Decimal(amount)
		out = append(out, d)
	}
	return out, db.Classify("closing: details", rows.Err())
}

func (r *PGRepository) Items(ctx context.Context, closingID int64) ([]apportionment.Item, error) {
	return apportionment.ItemsForClosing(ctx, r.pool, closingID)
}

type pgTx struct {
	q db.Querier
}

func (t pgTx) LockCostCenter(ctx context.Context, id int64) (costcenters.CostCenter, error) {
	if err := costcenters.LockLedger(ctx, t.q, id); err != nil {
		return costcenters.CostCenter{}, err
	}
	return costcenters.Get(ctx, t.q, id, true)
}

func (t pgTx) LockClosing(ctx context.Context, id int64) (Closing, error) {
	return getClosing(ctx, t.q, id, true)
}

func (t pgTx) HasApprovedOverlap(ctx context.Context, costCenterID int64, start, end time.Time, excludeID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM period_closings
WHERE cost_center_id = $1 AND id <> $4 AND status IN ('APPROVED', 'PROCESSED')
  AND daterange(start_date, end_date, '[]') && daterange($2::date, $3::date, '[]'))`,
		costCenterID, start, end, excludeID).Scan(&exists)
	return exists, db.Classify("closing: overlap", err)
}

func (t pgTx) HasProcessed(ctx context.Context, closingID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM period_closings WHERE processed_by_closing_id = $1)`,
		closingID).Scan(&exists)
	return exists, db.Classify("closing: processed", err)
}

func (t pgTx) EligibleEntries(ctx context.Context, costCenterID int64, start, end time.Time, closingID int64) ([]EntryLine, error) {
	rows, err := t.q.Query(ctx, `SELECT e.id, e.kind, e.entry_date, e.amount, e.category_id, ac.name,
  e.payment_method_id, pm.name, pm.cash_box, e.description
FROM ledger_entries e
JOIN payment_methods pm ON pm.id = e.payment_method_id
JOIN account_categories ac ON ac.id = e.category_id
WHERE e.cost_center_id = $1 AND e.deleted_at IS NULL
  AND e.entry_date BETWEEN $2::date AND $3::date
  AND (e.included_in_closing = FALSE OR ($4::bigint > 0 AND e.closing_id = $4))
ORDER BY e.entry_date, e.id
FOR UPDATE OF e`, costCenterID, start, end, closingID)
	if err != nil {
		return nil, db.Classify("closing: eligible entries", err)
	}
	defer rows.Close()
	var out []EntryLine
	for rows.Next() {
		var (
			l         EntryLine
			kind, box string
			amount    pgtype.Numeric
		)
		if err := rows.Scan(&l.EntryID, &kind, &l.Date, &amount, &l.CategoryID, &l.CategoryName,
			&l.PaymentMethodID, &l.PaymentMethodName, &box, &l.Description); err != nil {
			return nil, db.Classify("closing: scan entry", err)
		}
		l.Kind, l.CashBox, l.Amount = masterdata.Kind(kind), masterdata.CashBox(box), db.Decimal(amount)
		out = append(out, l)
	}
	return out, db.Classify("closing: eligible entries", rows.Err())
}

func (t pgTx) InsertClosing(ctx context.Context, c Closing) (Closing, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO period_closings
  (cost_center_id, start_date, end_date, total_income, total_expense, income_physical, income_digital,
   expense_physical, expense_digital, entry_count, total_apportionment, total_received, final_balance,
   status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
RETURNING id`,
		c.CostCenterID, c.StartDate, c.EndDate,
		db.Numeric(c.Totals.Income), db.Numeric(c.Totals.Expense),
		db.Numeric(c.Totals.IncomePhysical), db.Numeric(c.Totals.IncomeDigital),
		db.Numeric(c.Totals.ExpensePhysical), db.Numeric(c.Totals.ExpenseDigital),
		c.Totals.EntryCount, db.Numeric(c.TotalApportionment), db.Numeric(c.TotalReceived), db.Numeric(c.FinalBalance),
		string(c.Status), c.Notes, c.CreatedBy, c.CreatedAt).Scan(&id)
	if err != nil {
		return Closing{}, db.Classify("closing: insert", err)
	}
	return getClosing(ctx, t.q, id, false)
}

func (t pgTx) UpdateClosing(ctx context.Context, c Closing) error {
	tag, err := t.q.Exec(ctx, `UPDATE period_closings SET
  total_income = $2, total_expense = $3, income_physical = $4, income_digital = $5,
  expense_physical = $6, expense_digital = $7, entry_count = $8, total_apportionment = $9,
  total_received = $10, final_balance = $11, status = $12, notes = $13,
  submitted_by = $14, submitted_at = $15, approved_by = $16, approved_at = $17,
  rejected_by = $18, rejected_at = $19, rejection_reason = $20,
  processed_by_closing_id = $21, processed_at = $22, updated_at = $23
WHERE id = $1`,
		c.ID, db.Numeric(c.Totals.Income), db.Numeric(c.Totals.Expense),
		db.Numeric(c.Totals.IncomePhysical), db.Numeric(c.Totals.IncomeDigital),
		db.Numeric(c.Totals.ExpensePhysical), db.Numeric(c.Totals.ExpenseDigital),
		c.Totals.EntryCount, db.Numeric(c.TotalApportionment), db.Numeric(c.TotalReceived),
		db.Numeric(c.FinalBalance), string(c.Status), c.Notes,
		c.SubmittedBy, c.SubmittedAt, c.ApprovedBy, c.ApprovedAt,
		c.RejectedBy, c.RejectedAt, c.RejectionReason,
		c.ProcessedByClosingID, c.ProcessedAt, c.UpdatedAt)
	if err != nil {
		return db.Classify("closing: update", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClosingNotFound
	}
	return nil
}

func (t pgTx) MarkEntriesIncluded(ctx context.Context, closingID int64, entryIDs []int64, at time.Time) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `UPDATE ledger_entries
SET included_in_closing = TRUE, closing_id = $1, inclusion_date = $2, updated_at = $2
WHERE id = ANY($3) AND deleted_at IS NULL AND (included_in_closing = FALSE OR closing_id = $1)`,
		closingID, at, entryIDs)
	if err != nil {
		return 0, db.Classify("closing: mark entries", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) ReleaseEntries(ctx context.Context, closingID int64) error {
	_, err := t.q.Exec(ctx, `UPDATE ledger_entries
SET included_in_closing = FALSE, closing_id = NULL, inclusion_date = NULL, updated_at = NOW()
WHERE closing_id = $1`, closingID)
	return db.Classify("closing: release entries", err)
}

func (t pgTx) InsertDetails(ctx context.Context, closingID int64, lines []EntryLine) error {
	if len(lines) == 0 {
		return nil
	}
	for _, l := range lines {
		if _, err := t.q.Exec(ctx, `INSERT INTO closing_details
  (closing_id, entry_id, kind, entry_date, amount, category_id, category_name,
   payment_method_id, payment_method_name, cash_box, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			closingID, l.EntryID, string(l.Kind), l.Date, db.Numeric(l.Amount),
			l.CategoryID, l.CategoryName, l.PaymentMethodID, l.PaymentMethodName, string(l.CashBox), l.Description); err != nil {
			return db.Classify("closing: insert detail", err)
		}
	}
	return nil
}

func (t pgTx) DeleteDetails(ctx context.Context, closingID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM closing_details WHERE closing_id = $1`, closingID)
	return db.Classify("closing: delete details", err)
}

func (t pgTx) ActiveRules(ctx context.Context, originID int64) ([]apportionment.Rule, error) {
	return apportionment.ActiveRules(ctx, t.q, originID)
}

func (t pgTx) InsertItems(ctx context.Context, items []apportionment.Item) error {
	return apportionment.InsertItems(ctx, t.q, items)
}

func (t pgTx) DeleteItems(ctx context.Context, closingID int64) error {
	return apportionment.DeleteItems(ctx, t.q, closingID)
}

func (t pgTx) ItemsForClosing(ctx context.Context, closingID int64) ([]apportionment.Item, error) {
	return apportionment.ItemsForClosing(ctx, t.q, closingID)
}

func getClosing(ctx context.Context, q db.Querier, id int64, forUpdate bool) (Closing, error) {
	sql := `SELECT ` + closingColumns + closingFrom + ` WHERE c.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF c`
	}
	c, err := scanClosing(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Closing{}, ErrClosingNotFound
	}
	if err != nil {
		return Closing{}, db.Classify("closing: get", err)
	}
	return c, nil
}

func queryClosings(ctx context.Context, q db.Querier, sql string, args ...any) ([]Closing, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("closing: list", err)
	}
	defer rows.Close()
	var out []Closing
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, db.Classify("closing: scan", err)
		}
		out = append(out, c)
	}
	return out, db.Classify("closing: list", rows.Err())
}

func scanClosing(row pgx.Row) (Closing, error) {
	var (
		c                                 Closing
		ccType, status                    string
		income, expense, incPhys, incDig  pgtype.Numeric
		expPhys, expDig, rateio, received pgtype.Numeric
		final                             pgtype.Numeric
	)
	err := row.Scan(&c.ID, &c.CostCenterID, &c.CostCenterName, &ccType, &c.StartDate, &c.EndDate,
		&income, &expense, &incPhys, &incDig, &expPhys, &expDig,
		&c.Totals.EntryCount, &rateio, &received, &final, &status, &c.Notes,
		&c.CreatedBy, &c.CreatedAt, &c.SubmittedBy, &c.SubmittedAt, &c.ApprovedBy, &c.ApprovedAt,
		&c.RejectedBy, &c.RejectedAt, &c.RejectionReason, &c.ProcessedByClosingID, &c.ProcessedAt, &c.UpdatedAt)
	if err != nil {
		return Closing{}, err
	}
	c.CostCenterType = costcenters.Type(ccType)
	c.Status = Status(status)
	c.Totals.Income, c.Totals.Expense = db.Decimal(income), db.Decimal(expense)
	c.Totals.IncomePhysical, c.Totals.IncomeDigital = db.Decimal(incPhys), db.Decimal(incDig)
	c.Totals.ExpensePhysical, c.Totals.ExpenseDigital = db.Decimal(expPhys), db.Decimal(expDig)
	c.TotalApportionment, c.TotalReceived, c.FinalBalance = db.Decimal(rateio), db.Decimal(received), db.Decimal(final)
	return c, nil
}
