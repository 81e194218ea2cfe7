package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const timelineSelect = `SELECT a.occurred_at, a.actor_id, u.email, a.action, a.entity, a.entity_id, a.meta::text
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::text IS NULL OR u.email ILIKE '%' || $3 || '%')
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC`

// TimelineWindow returns one window of entries.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect+`
LIMIT $6 OFFSET $7`, arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action, arg.LimitRows, arg.OffsetRows)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// TimelineAll returns every matching entry.
func (r *PGRepository) TimelineAll(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect, arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]TimelineRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRecord, error) {
		var rec TimelineRecord
		var meta string
		err := row.Scan(&rec.At, &rec.ActorID, &rec.Actor, &rec.Action, &rec.Entity, &rec.EntityID, &meta)
		rec.Meta = []byte(meta)
		return rec, err
	})
}
