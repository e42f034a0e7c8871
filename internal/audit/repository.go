package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// Repository membaca audit_logs.
type Repository interface {
	Window(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit berbasis pgx.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const windowQuery = `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7 LIMIT $8`

func (r *repository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	f := params.TimelineFilters
	rows, err := db.Conn(ctx, r.pool).Query(ctx, windowQuery,
		optionalTime(f), optionalTo(f), optionalActor(f.ActorID),
		optionalText(f.Entity), optionalText(f.EntityID), optionalText(f.Action),
		params.Offset, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func optionalTime(f TimelineFilters) pgtype.Timestamptz {
	if f.From.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: f.From, Valid: true}
}

func optionalTo(f TimelineFilters) pgtype.Timestamptz {
	if f.To.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: f.To, Valid: true}
}

func optionalActor(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
