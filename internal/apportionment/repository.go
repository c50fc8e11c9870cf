package apportionment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

// Repository persists apportionment rules.
type Repository interface {
	ListRules(ctx context.Context, originID int64) ([]Rule, error)
	GetRule(ctx context.Context, id int64) (Rule, error)
	InsertRule(ctx context.Context, in RuleInput) (Rule, error)
	UpdateRule(ctx context.Context, id int64, in RuleInput) (Rule, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const ruleColumns = `r.id, r.origin_id, o.name, r.destination_id, d.name, r.percentage, r.description, r.active, r.created_at, r.updated_at`

const ruleFrom = ` FROM apportionment_rules r
JOIN cost_centers o ON o.id = r.origin_id
JOIN cost_centers d ON d.id = r.destination_id`

func (r *pgRepository) ListRules(ctx context.Context, originID int64) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+ruleFrom+`
WHERE ($1::bigint = 0 OR r.origin_id = $1)
ORDER BY o.name, d.name, r.id`, originID)
	if err != nil {
		return nil, db.Classify("apportionment: list rules", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, db.Classify("apportionment: scan rule", err)
		}
		out = append(out, rule)
	}
	return out, db.Classify("apportionment: list rules", rows.Err())
}

func (r *pgRepository) GetRule(ctx context.Context, id int64) (Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+ruleFrom+` WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	if err != nil {
		return Rule{}, db.Classify("apportionment: get rule", err)
	}
	return rule, nil
}

func (r *pgRepository) InsertRule(ctx context.Context, in RuleInput) (Rule, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO apportionment_rules (origin_id, destination_id, percentage, description, active)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		in.OriginID, in.DestinationID, db.Numeric(in.Percentage), in.Description, in.Active).Scan(&id)
	if err != nil {
		return Rule{}, db.Classify("apportionment: insert rule", err)
	}
	return r.GetRule(ctx, id)
}

func (r *pgRepository) UpdateRule(ctx context.Context, id int64, in RuleInput) (Rule, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE apportionment_rules
SET origin_id = $2, destination_id = $3, percentage = $4, description = $5, active = $6, updated_at = NOW()
WHERE id = $1`, id, in.OriginID, in.DestinationID, db.Numeric(in.Percentage), in.Description, in.Active)
	if err != nil {
		return Rule{}, db.Classify("apportionment: update rule", err)
	}
	if tag.RowsAffected() == 0 {
		return Rule{}, ErrRuleNotFound
	}
	return r.GetRule(ctx, id)
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	var pct pgtype.Numeric
	if err := row.Scan(&rule.ID, &rule.OriginID, &rule.OriginName, &rule.DestinationID, &rule.DestinationName,
		&pct, &rule.Description, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return Rule{}, err
	}
	rule.Percentage = db.Decimal(pct)
	return rule, nil
}

// ActiveRules loads the active rules of an origin through any querier.
func ActiveRules(ctx context.Context, q db.Querier, originID int64) ([]Rule, error) {
	rows, err := q.Query(ctx, `SELECT `+ruleColumns+ruleFrom+`
WHERE r.origin_id = $1 AND r.active AND d.deleted_at IS NULL
ORDER BY r.id`, originID)
	if err != nil {
		return nil, db.Classify("apportionment: active rules", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, db.Classify("apportionment: scan rule", err)
		}
		out = append(out, rule)
	}
	return out, db.Classify("apportionment: active rules", rows.Err())
}

// InsertItems stores the shares of an approved closing.
func InsertItems(ctx context.Context, q db.Querier, items []Item) error {
	for _, it := range items {
		_, err := q.Exec(ctx, `INSERT INTO apportionment_items
  (closing_id, rule_id, origin_id, destination_id, base, percentage, amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ClosingID, it.RuleID, it.OriginID, it.DestinationID,
			db.Numeric(it.Base), db.Numeric(it.Percentage), db.Numeric(it.Amount), it.CreatedAt)
		if err != nil {
			return db.Classify("apportionment: insert item", err)
		}
	}
	return nil
}

// DeleteItems removes the shares of a closing.
func DeleteItems(ctx context.Context, q db.Querier, closingID int64) error {
	_, err := q.Exec(ctx, `DELETE FROM apportionment_items WHERE closing_id = $1`, closingID)
	return db.Classify("apportionment: delete items", err)
}

// ItemsForClosing lists the stored shares of a closing.
func ItemsForClosing(ctx context.Context, q db.Querier, closingID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT i.id, i.closing_id, i.rule_id, i.origin_id, i.destination_id, d.name,
  i.base, i.percentage, i.amount, i.created_at
FROM apportionment_items i
JOIN cost_centers d ON d.id = i.destination_id
WHERE i.closing_id = $1
ORDER BY i.id`, closingID)
	if err != nil {
		return nil, db.Classify("apportionment: items", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var (
			it                Item
			base, pct, amount pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.ClosingID, &it.RuleID, &it.OriginID, &it.DestinationID, &it.Destination,
			&base, &pct, &amount, &it.CreatedAt); err != nil {
			return nil, db.Classify("apportionment: scan item", err)
		}
		it.Base, it.Percentage, it.Amount = db.Decimal(base), db.Decimal(pct), db.Decimal(amount)
		out = append(out, it)
	}
	return out, db.Classify("apportionment: items", rows.Err())
}
