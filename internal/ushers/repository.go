package ushers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists ushers and their schedule.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, costCenterIDs []int64) ([]Usher, error)
	Get(ctx context.Context, id int64) (Usher, error)
	Insert(ctx context.Context, in Input) (Usher, error)
	Update(ctx context.Context, id int64, in Input) (Usher, error)
	Schedule(ctx context.Context, costCenterID int64, from, to time.Time) ([]Assignment, error)
}

// TxRepository is valid only inside WithTx.
type TxRepository interface {
	// ActiveForUpdate locks the active ushers of a cost center.
	ActiveForUpdate(ctx context.Context, costCenterID int64) ([]Usher, error)
	// LastAssignedBefore returns the usher of the latest assignment before date, or 0.
	LastAssignedBefore(ctx context.Context, costCenterID int64, date time.Time) (int64, error)
	DeleteAssignments(ctx context.Context, costCenterID int64, from, to time.Time) error
	InsertAssignments(ctx context.Context, items []Assignment) error
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
		return fmt.Errorf("ushers: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{q: tx})
	})
}

const usherColumns = `id, name, phone, cost_center_id, active, created_at`

func (r *pgRepository) List(ctx context.Context, costCenterIDs []int64) ([]Usher, error) {
	return queryUshers(ctx, r.pool, `SELECT `+usherColumns+` FROM ushers
WHERE $1::bigint[] IS NULL OR cost_center_id = ANY($1) ORDER BY active DESC, name`, costCenterIDs)
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Usher, error) {
	u, err := scanUsher(r.pool.QueryRow(ctx, `SELECT `+usherColumns+` FROM ushers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Usher{}, ErrUsherNotFound
	}
	if err != nil {
		return Usher{}, db.Classify("ushers: get", err)
	}
	return u, nil
}

func (r *pgRepository) Insert(ctx context.Context, in Input) (Usher, error) {
	u, err := scanUsher(r.pool.QueryRow(ctx, `INSERT INTO ushers (name, phone, cost_center_id, active)
VALUES ($1, $2, $3, $4) RETURNING `+usherColumns,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone), in.CostCenterID, in.Active))
	if err != nil {
		return Usher{}, db.Classify("ushers: insert", err)
	}
	return u, nil
}

func (r *pgRepository) Update(ctx context.Context, id int64, in Input) (Usher, error) {
	u, err := scanUsher(r.pool.QueryRow(ctx, `UPDATE ushers SET name = $2, phone = $3, cost_center_id = $4, active = $5
WHERE id = $1 RETURNING `+usherColumns,
		id, strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone), in.CostCenterID, in.Active))
	if errors.Is(err, pgx.ErrNoRows) {
		return Usher{}, ErrUsherNotFound
	}
	if err != nil {
		return Usher{}, db.Classify("ushers: update", err)
	}
	return u, nil
}

func (r *pgRepository) Schedule(ctx context.Context, costCenterID int64, from, to time.Time) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.cost_center_id, a.service_date, a.slot, a.usher_id, u.name
FROM usher_assignments a JOIN ushers u ON u.id = a.usher_id
WHERE a.cost_center_id = $1 AND a.service_date BETWEEN $2 AND $3
ORDER BY a.service_date, a.slot`, costCenterID, from, to)
	if err != nil {
		return nil, db.Classify("ushers: schedule", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CostCenterID, &a.ServiceDate, &a.Slot, &a.UsherID, &a.UsherName); err != nil {
			return nil, db.Classify("ushers: scan assignment", err)
		}
		out = append(out, a)
	}
	return out, db.Classify("ushers: schedule", rows.Err())
}

type pgTx struct {
	q db.Querier
}

func (t pgTx) ActiveForUpdate(ctx context.Context, costCenterID int64) ([]Usher, error) {
	return queryUshers(ctx, t.q, `SELECT `+usherColumns+` FROM ushers
WHERE cost_center_id = $1 AND active ORDER BY id FOR UPDATE`, costCenterID)
}

func (t pgTx) LastAssignedBefore(ctx context.Context, costCenterID int64, date time.Time) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT usher_id FROM usher_assignments
WHERE cost_center_id = $1 AND service_date < $2
ORDER BY service_date DESC, slot DESC LIMIT 1`, costCenterID, date).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, db.Classify("ushers: last assigned", err)
}

func (t pgTx) DeleteAssignments(ctx context.Context, costCenterID int64, from, to time.Time) error {
	_, err := t.q.Exec(ctx, `DELETE FROM usher_assignments
WHERE cost_center_id = $1 AND service_date BETWEEN $2 AND $3`, costCenterID, from, to)
	return db.Classify("ushers: delete assignments", err)
}

func (t pgTx) InsertAssignments(ctx context.Context, items []Assignment) error {
	for _, a := range items {
		if _, err := t.q.Exec(ctx, `INSERT INTO usher_assignments (cost_center_id, service_date, slot, usher_id)
VALUES ($1, $2, $3, $4)`, a.CostCenterID, a.ServiceDate, a.Slot, a.UsherID); err != nil {
			return db.Classify("ushers: insert assignment", err)
		}
	}
	return nil
}

func queryUshers(ctx context.Context, q db.Querier, sql string, args ...any) ([]Usher, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("ushers: list", err)
	}
	defer rows.Close()
	var out []Usher
	for rows.Next() {
		u, err := scanUsher(rows)
		if err != nil {
			return nil, db.Classify("ushers: scan", err)
		}
		out = append(out, u)
	}
	return out, db.Classify("ushers: list", rows.Err())
}

func scanUsher(row pgx.Row) (Usher, error) {
	var (
		u     Usher
		phone pgtype.Text
	)
	if err := row.Scan(&u.ID, &u.Name, &phone, &u.CostCenterID, &u.Active, &u.CreatedAt); err != nil {
		return Usher{}, err
	}
	u.Phone = phone.String
	return u, nil
}
