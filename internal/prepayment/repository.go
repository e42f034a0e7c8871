package prepayment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// Repository encapsulates prepayment storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Prepayment, error)
	ListUsages(ctx context.Context, prepaymentID int64) ([]Usage, error)
	GetUsage(ctx context.Context, id int64) (Usage, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Prepayment, error)
	SumUsages(ctx context.Context, prepaymentID, excludeUsageID int64) (decimal.Decimal, error)
	InsertUsage(ctx context.Context, usage Usage) (Usage, error)
	GetUsageForUpdate(ctx context.Context, id int64) (Usage, error)
	UpdateUsageAmount(ctx context.Context, id int64, amount decimal.Decimal) error
	DeleteUsage(ctx context.Context, id int64) error
	ListUsagesBySetoff(ctx context.Context, setoffID int64) ([]Usage, error)
	SetUsedAmount(ctx context.Context, id int64, used decimal.Decimal) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed prepayment repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const prepaymentColumns = `id, code, kind, counterparty_id, amount, used_amount`

func scanPrepayment(row pgx.Row) (Prepayment, error) {
	var p Prepayment
	if err := row.Scan(&p.ID, &p.Code, &p.Kind, &p.CounterpartyID, &p.Amount, &p.UsedAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Prepayment{}, ErrNotFound
		}
		return Prepayment{}, err
	}
	return p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Prepayment, error) {
	return scanPrepayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+prepaymentColumns+` FROM prepayments WHERE id=$1`, id))
}

func (r *repository) ListUsages(ctx context.Context, prepaymentID int64) ([]Usage, error) {
	return queryUsages(ctx, db.Conn(ctx, r.pool), `WHERE prepayment_id=$1`, "", prepaymentID)
}

func (r *repository) GetUsage(ctx context.Context, id int64) (Usage, error) {
	return scanUsage(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+usageColumns+` FROM prepayment_usages WHERE id=$1`, id))
}

const usageColumns = `id, prepayment_id, setoff_id, amount, created_at`

func scanUsage(row pgx.Row) (Usage, error) {
	var u Usage
	if err := row.Scan(&u.ID, &u.PrepaymentID, &u.SetoffID, &u.Amount, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usage{}, ErrUsageNotFound
		}
		return Usage{}, err
	}
	return u, nil
}

func queryUsages(ctx context.Context, q db.Querier, where, lock string, arg int64) ([]Usage, error) {
	rows, err := q.Query(ctx, `SELECT `+usageColumns+` FROM prepayment_usages `+where+` ORDER BY id`+lock, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var usages []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.ID, &u.PrepaymentID, &u.SetoffID, &u.Amount, &u.CreatedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Prepayment, error) {
	return scanPrepayment(r.tx.QueryRow(ctx, `SELECT `+prepaymentColumns+` FROM prepayments WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) SumUsages(ctx context.Context, prepaymentID, excludeUsageID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM prepayment_usages WHERE prepayment_id=$1 AND id<>$2`,
		prepaymentID, excludeUsageID).Scan(&sum)
	return sum, err
}

func (r *txRepository) InsertUsage(ctx context.Context, usage Usage) (Usage, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO prepayment_usages (prepayment_id, setoff_id, amount) VALUES ($1,$2,$3) RETURNING id, created_at`,
		usage.PrepaymentID, usage.SetoffID, usage.Amount).Scan(&usage.ID, &usage.CreatedAt)
	return usage, err
}

func (r *txRepository) GetUsageForUpdate(ctx context.Context, id int64) (Usage, error) {
	return scanUsage(r.tx.QueryRow(ctx, `SELECT `+usageColumns+` FROM prepayment_usages WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateUsageAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prepayment_usages SET amount=$2 WHERE id=$1`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUsageNotFound
	}
	return nil
}

func (r *txRepository) DeleteUsage(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM prepayment_usages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUsageNotFound
	}
	return nil
}

func (r *txRepository) ListUsagesBySetoff(ctx context.Context, setoffID int64) ([]Usage, error) {
	return queryUsages(ctx, r.tx, `WHERE setoff_id=$1`, ` FOR UPDATE`, setoffID)
}

func (r *txRepository) SetUsedAmount(ctx context.Context, id int64, used decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prepayments SET used_amount=$2 WHERE id=$1`, id, used)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
