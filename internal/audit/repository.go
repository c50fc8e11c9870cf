package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !q.From.IsZero() {
		add("a.occurred_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("a.occurred_at < $%d", q.To)
	}
	if q.Actor != "" {
		add("(u.email ILIKE '%%' || $%[1]d || '%%' OR u.name ILIKE '%%' || $%[1]d || '%%')", q.Actor)
	}
	if q.Entity != "" {
		add("a.entity = $%d", q.Entity)
	}
	if q.Action != "" {
		add("a.action LIKE $%d || '%%'", q.Action)
	}
	sql := `SELECT a.id, a.occurred_at, COALESCE(a.actor_id, 0), COALESCE(u.name, ''), COALESCE(u.email, ''),
	a.action, a.entity, a.entity_id, a.details
FROM audit_logs a LEFT JOIN users u ON u.id = a.actor_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY a.occurred_at DESC, a.id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("audit: timeline", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row     TimelineRow
			details []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.ActorName, &row.ActorEmail,
			&row.Action, &row.Entity, &row.EntityID, &details); err != nil {
			return nil, db.Classify("audit: timeline", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &row.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, db.Classify("audit: timeline", rows.Err())
}
