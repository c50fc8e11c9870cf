package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository loads snapshots and stores run results.
type Repository interface {
	LoadSnapshot(ctx context.Context, since time.Time) (Snapshot, error)
	SaveRun(ctx context.Context, run Run) (Run, error)
	LatestRun(ctx context.Context) (Run, error)
}

// PGRepository implements Repository with pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LoadSnapshot reads closings ending on or after since, and entries from
// EntryWindow onwards, inside one read-only transaction.
func (r *PGRepository) LoadSnapshot(ctx context.Context, since time.Time) (Snapshot, error) {
	var snap Snapshot
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, db.Classify("consistency: begin snapshot", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if snap.CostCenters, err = loadCostCenters(ctx, tx); err != nil {
		return snap, err
	}
	if snap.PaymentMethods, err = loadPaymentMethods(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Closings, err = loadClosings(ctx, tx, since); err != nil {
		return snap, err
	}
	if snap.Entries, err = loadEntries(ctx, tx, EntryWindow(since, snap.Closings)); err != nil {
		return snap, err
	}
	if snap.Items, err = loadItems(ctx, tx, since); err != nil {
		return snap, err
	}
	return snap, nil
}

func loadCostCenters(ctx context.Context, q db.Querier) ([]CostCenterRef, error) {
	rows, err := q.Query(ctx, `SELECT id, name, deleted_at IS NOT NULL FROM cost_centers`)
	if err != nil {
		return nil, db.Classify("consistency: cost centers", err)
	}
	defer rows.Close()
	var out []CostCenterRef
	for rows.Next() {
		var c CostCenterRef
		if err := rows.Scan(&c.ID, &c.Name, &c.Deleted); err != nil {
			return nil, db.Classify("consistency: scan cost center", err)
		}
		out = append(out, c)
	}
	return out, db.Classify("consistency: cost centers", rows.Err())
}

func loadPaymentMethods(ctx context.Context, q db.Querier) ([]PaymentMethodRef, error) {
	rows, err := q.Query(ctx, `SELECT id, name, deleted_at IS NOT NULL FROM payment_methods`)
	if err != nil {
		return nil, db.Classify("consistency: payment methods", err)
	}
	defer rows.Close()
	var out []PaymentMethodRef
	for rows.Next() {
		var m PaymentMethodRef
		if err := rows.Scan(&m.ID, &m.Name, &m.Deleted); err != nil {
			return nil, db.Classify("consistency: scan payment method", err)
		}
		out = append(out, m)
	}
	return out, db.Classify("consistency: payment methods", rows.Err())
}

func loadEntries(ctx context.Context, q db.Querier, since time.Time) ([]EntryRow, error) {
	rows, err := q.Query(ctx, `SELECT id, cost_center_id, payment_method_id, category_id, kind, entry_date, amount,
  included_in_closing, closing_id
FROM ledger_entries WHERE deleted_at IS NULL AND entry_date >= $1 ORDER BY id`, since)
	if err != nil {
		return nil, db.Classify("consistency: entries", err)
	}
	defer rows.Close()
	var out []EntryRow
	for rows.Next() {
		var (
			e         EntryRow
			amount    pgtype.Numeric
			closingID pgtype.Int8
		)
		if err := rows.Scan(&e.ID, &e.CostCenterID, &e.PaymentMethodID, &e.CategoryID, &e.Kind, &e.Date, &amount,
			&e.Included, &closingID); err != nil {
			return nil, db.Classify("consistency: scan entry", err)
		}
		e.Amount = db.Decimal(amount)
		if closingID.Valid {
			v := closingID.Int64
			e.ClosingID = &v
		}
		out = append(out, e)
	}
	return out, db.Classify("consistency: entries", rows.Err())
}

func loadClosings(ctx context.Context, q db.Querier, since time.Time) ([]ClosingRow, error) {
	rows, err := q.Query(ctx, `SELECT id, cost_center_id, start_date, end_date, status,
  total_income, total_expense, total_apportionment, final_balance
FROM period_closings WHERE end_date >= $1 ORDER BY id`, since)
	if err != nil {
		return nil, db.Classify("consistency: closings", err)
	}
	defer rows.Close()
	var out []ClosingRow
	for rows.Next() {
		var (
			c                                     ClosingRow
			income, expense, apportionment, final pgtype.Numeric
		)
		if err := rows.Scan(&c.ID, &c.CostCenterID, &c.Start, &c.End, &c.Status,
			&income, &expense, &apportionment, &final); err != nil {
			return nil, db.Classify("consistency: scan closing", err)
		}
		c.Income = db.Decimal(income)
		c.Expense = db.Decimal(expense)
		c.Apportionment = db.Decimal(apportionment)
		c.FinalBalance = db.Decimal(final)
		out = append(out, c)
	}
	return out, db.Classify("consistency: closings", rows.Err())
}

func loadItems(ctx context.Context, q db.Querier, since time.Time) ([]ItemRow, error) {
	rows, err := q.Query(ctx, `SELECT i.id, i.closing_id, i.destination_id, i.amount
FROM apportionment_items i LEFT JOIN period_closings c ON c.id = i.closing_id
WHERE c.id IS NULL OR c.end_date >= $1 ORDER BY i.id`, since)
	if err != nil {
		return nil, db.Classify("consistency: items", err)
	}
	defer rows.Close()
	var out []ItemRow
	for rows.Next() {
		var (
			it     ItemRow
			amount pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.ClosingID, &it.DestinationID, &amount); err != nil {
			return nil, db.Classify("consistency: scan item", err)
		}
		it.Amount = db.Decimal(amount)
		out = append(out, it)
	}
	return out, db.Classify("consistency: items", rows.Err())
}

// SaveRun persists a run with its findings as JSONB.
func (r *PGRepository) SaveRun(ctx context.Context, run Run) (Run, error) {
	payload, err := json.Marshal(run.Findings)
	if err != nil {
		return run, fmt.Errorf("consistency: encode findings: %w", err)
	}
	var triggeredBy pgtype.Int8
	if run.TriggeredBy > 0 {
		triggeredBy = pgtype.Int8{Int64: run.TriggeredBy, Valid: true}
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO consistency_runs
  (started_at, finished_at, triggered_by, critical_count, warning_count, info_count, findings)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		run.StartedAt, run.FinishedAt, triggeredBy, run.Counts.Critical, run.Counts.Warning, run.Counts.Info, payload,
	).Scan(&run.ID)
	if err != nil {
		return run, db.Classify("consistency: save run", err)
	}
	return run, nil
}

// LatestRun returns the newest run or ErrNoRuns.
func (r *PGRepository) LatestRun(ctx context.Context) (Run, error) {
	var (
		run         Run
		triggeredBy pgtype.Int8
		payload     []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, started_at, finished_at, triggered_by, critical_count, warning_count, info_count, findings
FROM consistency_runs ORDER BY finished_at DESC, id DESC LIMIT 1`).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &triggeredBy,
		&run.Counts.Critical, &run.Counts.Warning, &run.Counts.Info, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return run, ErrNoRuns
	}
	if err != nil {
		return run, db.Classify("consistency: latest run", err)
	}
	run.TriggeredBy = triggeredBy.Int64
	if err := json.Unmarshal(payload, &run.Findings); err != nil {
		return run, fmt.Errorf("consistency: decode findings: %w", err)
	}
	return run, nil
}
