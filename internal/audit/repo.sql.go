package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListTimeline returns one page of entries, newest first, plus the total count
// for the same filters.
func (r *Repository) ListTimeline(ctx context.Context, companyID int64, f Filters) ([]Entry, int, error) {
	where := []string{"company_id = $1"}
	args := []any{companyID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_logs WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit timeline: %w", err)
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(
		`SELECT id, company_id, actor_id, action, entity, entity_id, meta, occurred_at
		 FROM audit_logs WHERE %s
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, f.PerPage, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit timeline: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at time.Time
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Meta, &at); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.At = at.UTC()
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
