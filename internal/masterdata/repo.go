package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository defines data access for master data.
type Repository interface {
	ListPaymentMethods(ctx context.Context, filters ListFilters) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id int64) (PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, p PaymentMethod) (PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, id int64, p PaymentMethod) (PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, id int64) error

	ListCategories(ctx context.Context, kind Kind, filters ListFilters) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, id int64, c Category) (Category, error)

	ListCounterparties(ctx context.Context, party Party, filters ListFilters) ([]Counterparty, error)
	GetCounterparty(ctx context.Context, party Party, id int64) (Counterparty, error)
	CreateCounterparty(ctx context.Context, c Counterparty) (Counterparty, error)
	UpdateCounterparty(ctx context.Context, id int64, c Counterparty) (Counterparty, error)
}

// repo implements Repository with pgx.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool}
}

// Payment method operations

const paymentMethodColumns = `id, name, cash_box, active, deleted_at, created_at, updated_at`

func (r *repo) ListPaymentMethods(ctx context.Context, filters ListFilters) ([]PaymentMethod, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods
WHERE deleted_at IS NULL
  AND ($1 = '' OR name ILIKE '%' || $1 || '%')
  AND ($2::boolean IS NULL OR active = $2)
ORDER BY name`, filters.Search, filters.IsActive)
	if err != nil {
		return nil, db.Classify("masterdata: list payment methods", err)
	}
	defer rows.Close()
	var out []PaymentMethod
	for rows.Next() {
		p, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, db.Classify("masterdata: scan payment method", err)
		}
		out = append(out, p)
	}
	return out, db.Classify("masterdata: list payment methods", rows.Err())
}

func (r *repo) GetPaymentMethod(ctx context.Context, id int64) (PaymentMethod, error) {
	p, err := scanPaymentMethod(r.db.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = $1`, id))
	return p, notFound(err, ErrPaymentMethodNotFound, "masterdata: get payment method")
}

func (r *repo) CreatePaymentMethod(ctx context.Context, p PaymentMethod) (PaymentMethod, error) {
	out, err := scanPaymentMethod(r.db.QueryRow(ctx, `INSERT INTO payment_methods (name, cash_box, active)
VALUES ($1, $2, $3) RETURNING `+paymentMethodColumns, p.Name, string(p.CashBox), p.Active))
	return out, db.Classify("masterdata: create payment method", err)
}

func (r *repo) UpdatePaymentMethod(ctx context.Context, id int64, p PaymentMethod) (PaymentMethod, error) {
	out, err := scanPaymentMethod(r.db.QueryRow(ctx, `UPDATE payment_methods
SET name = $2, cash_box = $3, active = $4, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL RETURNING `+paymentMethodColumns, id, p.Name, string(p.CashBox), p.Active))
	return out, notFound(err, ErrPaymentMethodNotFound, "masterdata: update payment method")
}

func (r *repo) DeletePaymentMethod(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE payment_methods SET deleted_at = NOW(), active = FALSE
WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return db.Classify("masterdata: delete payment method", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}

func scanPaymentMethod(row pgx.Row) (PaymentMethod, error) {
	var (
		p   PaymentMethod
		box string
	)
	if err := row.Scan(&p.ID, &p.Name, &box, &p.Active, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return PaymentMethod{}, err
	}
	p.CashBox = CashBox(box)
	return p, nil
}

// Category operations

const categoryColumns = `id, code, name, kind, active, created_at, updated_at`

func (r *repo) ListCategories(ctx context.Context, kind Kind, filters ListFilters) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT `+categoryColumns+` FROM account_categories
WHERE ($1 = '' OR kind = $1)
  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR code ILIKE $2 || '%')
  AND ($3::boolean IS NULL OR active = $3)
ORDER BY code`, string(kind), filters.Search, filters.IsActive)
	if err != nil {
		return nil, db.Classify("masterdata: list categories", err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, db.Classify("masterdata: scan category", err)
		}
		out = append(out, c)
	}
	return out, db.Classify("masterdata: list categories", rows.Err())
}

func (r *repo) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, err := scanCategory(r.db.QueryRow(ctx, `SELECT `+categoryColumns+` FROM account_categories WHERE id = $1`, id))
	return c, notFound(err, ErrCategoryNotFound, "masterdata: get category")
}

func (r *repo) CreateCategory(ctx context.Context, c Category) (Category, error) {
	out, err := scanCategory(r.db.QueryRow(ctx, `INSERT INTO account_categories (code, name, kind, active)
VALUES ($1, $2, $3, $4) RETURNING `+categoryColumns, c.Code, c.Name, string(c.Kind), c.Active))
	return out, db.Classify("masterdata: create category", err)
}

func (r *repo) UpdateCategory(ctx context.Context, id int64, c Category) (Category, error) {
	out, err := scanCategory(r.db.QueryRow(ctx, `UPDATE account_categories
SET code = $2, name = $3, kind = $4, active = $5, updated_at = NOW()
WHERE id = $1 RETURNING `+categoryColumns, id, c.Code, c.Name, string(c.Kind), c.Active))
	return out, notFound(err, ErrCategoryNotFound, "masterdata: update category")
}

func scanCategory(row pgx.Row) (Category, error) {
	var (
		c    Category
		kind string
	)
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &kind, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Category{}, err
	}
	c.Kind = Kind(kind)
	return c, nil
}

// Counterparty operations. The table name comes from a validated Party.

const counterpartyColumns = `id, name, document, phone, active, created_at, updated_at`

func (r *repo) ListCounterparties(ctx context.Context, party Party, filters ListFilters) ([]Counterparty, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s
WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%' OR document = $1)
  AND ($2::boolean IS NULL OR active = $2)
ORDER BY name`, counterpartyColumns, party), filters.Search, filters.IsActive)
	if err != nil {
		return nil, db.Classify("masterdata: list counterparties", err)
	}
	defer rows.Close()
	var out []Counterparty
	for rows.Next() {
		c, err := scanCounterparty(rows, party)
		if err != nil {
			return nil, db.Classify("masterdata: scan counterparty", err)
		}
		out = append(out, c)
	}
	return out, db.Classify("masterdata: list counterparties", rows.Err())
}

func (r *repo) GetCounterparty(ctx context.Context, party Party, id int64) (Counterparty, error) {
	c, err := scanCounterparty(r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, counterpartyColumns, party), id), party)
	return c, notFound(err, ErrCounterpartyNotFound, "masterdata: get counterparty")
}

func (r *repo) CreateCounterparty(ctx context.Context, c Counterparty) (Counterparty, error) {
	out, err := scanCounterparty(r.db.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (name, document, phone, active)
VALUES ($1, $2, $3, $4) RETURNING %s`, c.Party, counterpartyColumns), c.Name, c.Document, c.Phone, c.Active), c.Party)
	return out, db.Classify("masterdata: create counterparty", err)
}

func (r *repo) UpdateCounterparty(ctx context.Context, id int64, c Counterparty) (Counterparty, error) {
	out, err := scanCounterparty(r.db.QueryRow(ctx, fmt.Sprintf(`UPDATE %s
SET name = $2, document = $3, phone = $4, active = $5, updated_at = NOW()
WHERE id = $1 RETURNING %s`, c.Party, counterpartyColumns), id, c.Name, c.Document, c.Phone, c.Active), c.Party)
	return out, notFound(err, ErrCounterpartyNotFound, "masterdata: update counterparty")
}

func scanCounterparty(row pgx.Row, party Party) (Counterparty, error) {
	c := Counterparty{Party: party}
	if err := row.Scan(&c.ID, &c.Name, &c.Document, &c.Phone, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Counterparty{}, err
	}
	return c, nil
}

func notFound(err, sentinel error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return db.Classify(op, err)
}
