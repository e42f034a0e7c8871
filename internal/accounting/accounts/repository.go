package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context) ([]AccountItem, error)
}

// TxRepository exposes account operations that run inside a transaction.
type TxRepository interface {
	FindByCode(ctx context.Context, code string) (AccountItem, error)
	FindByID(ctx context.Context, id int64) (AccountItem, error)
	FindLinked(ctx context.Context, parentID int64, kind LinkKind, entityID int64) (AccountItem, error)
	CountChildren(ctx context.Context, parentID int64) (int, error)
	// InsertIfAbsent reports false when a unique constraint already holds the code or link.
	InsertIfAbsent(ctx context.Context, item AccountItem) (AccountItem, bool, error)
	HasPostedLines(ctx context.Context, accountID int64) (bool, error)
	UpdateClassification(ctx context.Context, id int64, accountType AccountType, side NormalSide) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, code, name, level, parent_id, account_type, normal_side, is_detail, is_auto_generated,
COALESCE(link_kind, ''), linked_entity_id, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (AccountItem, error) {
	var a AccountItem
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Level, &a.ParentID, &a.Type, &a.Side, &a.IsDetail, &a.IsAutoGenerated,
		&a.LinkKind, &a.LinkedEntityID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountItem{}, shared.ErrAccountNotFound
		}
		return AccountItem{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context) ([]AccountItem, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []AccountItem
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindByCode(ctx context.Context, code string) (AccountItem, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
}

func (r *txRepository) FindByID(ctx context.Context, id int64) (AccountItem, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *txRepository) FindLinked(ctx context.Context, parentID int64, kind LinkKind, entityID int64) (AccountItem, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE parent_id=$1 AND link_kind=$2 AND linked_entity_id=$3`, parentID, kind, entityID))
}

func (r *txRepository) CountChildren(ctx context.Context, parentID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id=$1`, parentID).Scan(&n)
	return n, err
}

func (r *txRepository) InsertIfAbsent(ctx context.Context, item AccountItem) (AccountItem, bool, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, level, parent_id, account_type, normal_side, is_detail,
is_auto_generated, link_kind, linked_entity_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT DO NOTHING
RETURNING `+accountColumns, item.Code, item.Name, item.Level, item.ParentID, item.Type, item.Side, item.IsDetail,
		item.IsAutoGenerated, item.LinkKind, item.LinkedEntityID)
	created, err := scanAccount(row)
	if errors.Is(err, shared.ErrAccountNotFound) {
		return AccountItem{}, false, nil
	}
	if err != nil {
		return AccountItem{}, false, err
	}
	return created, true, nil
}

func (r *txRepository) HasPostedLines(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id=$1 AND e.status IN ('POSTED','REVERSED'))`, accountID).Scan(&exists)
	return exists, err
}

func (r *txRepository) UpdateClassification(ctx context.Context, id int64, accountType AccountType, side NormalSide) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET account_type=$2, normal_side=$3, updated_at=NOW() WHERE id=$1`, id, accountType, side)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}
