package inventory

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// Repository reads stock movements recorded by the inventory system.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByRef returns the movements recorded for a source document.
func (r *Repository) ListByRef(ctx context.Context, refModule string, refID int64) ([]Transaction, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT t.id, t.code, t.tx_type, t.ref_module, t.ref_id, t.posted_at,
       l.product_id, l.qty, l.unit_cost
FROM inventory_tx t
JOIN inventory_tx_lines l ON l.tx_id = t.id
WHERE t.ref_module=$1 AND t.ref_id=$2
ORDER BY t.id, l.id`, refModule, strconv.FormatInt(refID, 10))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		txs   []Transaction
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			tx   Transaction
			line TransactionLine
		)
		if err := rows.Scan(&tx.ID, &tx.Code, &tx.Type, &tx.RefModule, &tx.RefID, &tx.PostedAt,
			&line.ProductID, &line.Qty, &line.UnitCost); err != nil {
			return nil, err
		}
		pos, ok := index[tx.ID]
		if !ok {
			pos = len(txs)
			index[tx.ID] = pos
			txs = append(txs, tx)
		}
		txs[pos].Lines = append(txs[pos].Lines, line)
	}
	return txs, rows.Err()
}

// MovementCost is the recorded stock-movement cost of a source document.
// The inventory system records one movement per shipment or return.
func (r *Repository) MovementCost(ctx context.Context, refModule string, refID int64) (decimal.Decimal, error) {
	txs, err := r.ListByRef(ctx, refModule, refID)
	if err != nil {
		return decimal.Zero, err
	}
	return MovementCost(txs), nil
}
