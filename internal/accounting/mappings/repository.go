package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// ErrInvalidKey is returned when a lookup names no module or key.
var ErrInvalidKey = errors.New("mappings: module and key required")

// Repository resolves the fixed accounts used by journalization.
type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres backed mapping lookup.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// Get reads inside the caller's transaction when one is open, so a mapping
// change and the entry that uses it stay consistent.
func (r *pgRepository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	mapping, err := normalize(module, key)
	if err != nil {
		return AccountMapping{}, err
	}
	const q = `SELECT account_id FROM account_mappings WHERE module = $1 AND key = $2`
	err = db.Conn(ctx, r.pool).QueryRow(ctx, q, mapping.Module, mapping.Key).Scan(&mapping.AccountID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return AccountMapping{}, fmt.Errorf("%w: %s/%s", shared.ErrMappingNotFound, mapping.Module, mapping.Key)
	case err != nil:
		return AccountMapping{}, fmt.Errorf("mappings: get %s/%s: %w", mapping.Module, mapping.Key, err)
	}
	return mapping, nil
}

func normalize(module, key string) (AccountMapping, error) {
	module = strings.ToUpper(strings.TrimSpace(module))
	key = strings.ToLower(strings.TrimSpace(key))
	if module == "" || key == "" {
		return AccountMapping{}, ErrInvalidKey
	}
	return AccountMapping{Module: module, Key: key}, nil
}
