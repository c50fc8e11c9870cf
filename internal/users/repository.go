package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
)

// Repository persists users.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Insert(ctx context.Context, in Input, hash string) (User, error)
	Update(ctx context.Context, id int64, in Input) (User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const userColumns = `id, email, name, role, cost_center_id, active, password_hash, last_login_at, created_at, updated_at`

func (r *pgRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY active DESC, name`)
	if err != nil {
		return nil, db.Classify("users: list", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, db.Classify("users: list", err)
		}
		out = append(out, u)
	}
	return out, db.Classify("users: list", rows.Err())
}

func (r *pgRepository) Get(ctx context.Context, id int64) (User, error) {
	return r.one(ctx, "users: get", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *pgRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.one(ctx, "users: find by email", `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *pgRepository) Insert(ctx context.Context, in Input, hash string) (User, error) {
	u, err := r.one(ctx, "users: insert", `INSERT INTO users (email, name, role, cost_center_id, active, password_hash)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+userColumns,
		in.Email, in.Name, string(in.Role), in.CostCenterID, in.Active, hash)
	if db.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	return u, err
}

func (r *pgRepository) Update(ctx context.Context, id int64, in Input) (User, error) {
	u, err := r.one(ctx, "users: update", `UPDATE users SET email = $2, name = $3, role = $4, cost_center_id = $5, active = $6, updated_at = NOW()
WHERE id = $1 RETURNING `+userColumns,
		id, in.Email, in.Name, string(in.Role), in.CostCenterID, in.Active)
	if db.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	return u, err
}

func (r *pgRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return db.Classify("users: set password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *pgRepository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return db.Classify("users: touch login", err)
}

func (r *pgRepository) one(ctx context.Context, op, sql string, args ...any) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if db.IsUniqueViolation(err) {
		return User{}, err
	}
	if err != nil {
		return User{}, db.Classify(op, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.CostCenterID, &u.Active, &u.PasswordHash,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return User{}, err
	}
	u.Role = parsed
	return u, nil
}
