package costcenters

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists cost centers.
type Repository interface {
	List(ctx context.Context, includeDeleted bool) ([]CostCenter, error)
	Get(ctx context.Context, id int64) (CostCenter, error)
	Insert(ctx context.Context, in Input) (CostCenter, error)
	Update(ctx context.Context, id int64, in Input) (CostCenter, error)
	SoftDelete(ctx context.Context, id int64) error
	HasHeadquarters(ctx context.Context, excludeID int64) (bool, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const columns = `id, name, type, active, deleted_at, created_at, updated_at`

func (r *pgRepository) List(ctx context.Context, includeDeleted bool) ([]CostCenter, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM cost_centers
WHERE $1 OR deleted_at IS NULL
ORDER BY CASE type WHEN 'HEADQUARTERS' THEN 0 ELSE 1 END, name`, includeDeleted)
	if err != nil {
		return nil, db.Classify("costcenters: list", err)
	}
	defer rows.Close()
	var out []CostCenter
	for rows.Next() {
		cc, err := scan(rows)
		if err != nil {
			return nil, db.Classify("costcenters: scan", err)
		}
		out = append(out, cc)
	}
	return out, db.Classify("costcenters: list", rows.Err())
}

func (r *pgRepository) Get(ctx context.Context, id int64) (CostCenter, error) {
	return Get(ctx, r.pool, id, false)
}

// Get loads a cost center through any querier, optionally locking the row.
// Soft-deleted rows are returned so callers can distinguish them from unknown ids.
func Get(ctx context.Context, q db.Querier, id int64, forUpdate bool) (CostCenter, error) {
	sql := `SELECT ` + columns + ` FROM cost_centers WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	cc, err := scan(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CostCenter{}, ErrNotFound
	}
	if err != nil {
		return CostCenter{}, db.Classify("costcenters: get", err)
	}
	return cc, nil
}

// LockLedger serializes ledger writers of the given cost centers. It bumps
// ledger_version instead of taking a bare row lock so that a repeatable-read
// transaction whose snapshot predates a concurrent writer's commit fails with a
// serialization error rather than proceeding on stale data.
func LockLedger(ctx context.Context, q db.Querier, ids ...int64) error {
	_, err := q.Exec(ctx, `UPDATE cost_centers SET ledger_version = ledger_version + 1
WHERE id = ANY($1)`, ids)
	return db.Classify("costcenters: lock ledger", err)
}

func (r *pgRepository) Insert(ctx context.Context, in Input) (CostCenter, error) {
	cc, err := scan(r.pool.QueryRow(ctx, `INSERT INTO cost_centers (name, type, active)
VALUES ($1, $2, $3) RETURNING `+columns, in.Name, string(in.Type), in.Active))
	if err != nil {
		return CostCenter{}, db.Classify("costcenters: insert", err)
	}
	return cc, nil
}

func (r *pgRepository) Update(ctx context.Context, id int64, in Input) (CostCenter, error) {
	cc, err := scan(r.pool.QueryRow(ctx, `UPDATE cost_centers
SET name = $2, type = $3, active = $4, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL RETURNING `+columns, id, in.Name, string(in.Type), in.Active))
	if errors.Is(err, pgx.ErrNoRows) {
		return CostCenter{}, ErrNotFound
	}
	if err != nil {
		return CostCenter{}, db.Classify("costcenters: update", err)
	}
	return cc, nil
}

func (r *pgRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE cost_centers SET deleted_at = NOW(), active = FALSE, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return db.Classify("costcenters: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepository) HasHeadquarters(ctx context.Context, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cost_centers
WHERE type = 'HEADQUARTERS' AND deleted_at IS NULL AND id <> $1)`, excludeID).Scan(&exists)
	return exists, db.Classify("costcenters: headquarters", err)
}

func scan(row pgx.Row) (CostCenter, error) {
	var cc CostCenter
	var typ string
	if err := row.Scan(&cc.ID, &cc.Name, &typ, &cc.Active, &cc.DeletedAt, &cc.CreatedAt, &cc.UpdatedAt); err != nil {
		return CostCenter{}, err
	}
	cc.Type = Type(typ)
	return cc, nil
}
