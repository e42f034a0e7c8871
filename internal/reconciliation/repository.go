package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// Repository encapsulates setoff and source line storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSetoff(ctx context.Context, id int64) (Setoff, error)
	GetSourceLine(ctx context.Context, sourceType SourceType, id int64) (SourceLine, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	LockSourceLine(ctx context.Context, sourceType SourceType, id int64) (SourceLine, error)
	SumDetails(ctx context.Context, sourceType SourceType, lineID, excludeDetailID int64) (decimal.Decimal, error)
	SetSettled(ctx context.Context, sourceType SourceType, lineID int64, settled decimal.Decimal, isSettled bool) error
	ScanSourceLines(ctx context.Context, sourceType SourceType) ([]LineState, error)

	InsertSetoff(ctx context.Context, setoff Setoff) (Setoff, error)
	GetSetoffForUpdate(ctx context.Context, id int64) (Setoff, error)
	UpdateSetoffTotals(ctx context.Context, id int64, total, prepayment decimal.Decimal) error
	DeleteSetoff(ctx context.Context, id int64) error

	InsertDetail(ctx context.Context, detail SetoffDetail) (SetoffDetail, error)
	GetDetailForUpdate(ctx context.Context, id int64) (SetoffDetail, error)
	UpdateDetail(ctx context.Context, id int64, current, total decimal.Decimal) error
	DeleteDetail(ctx context.Context, id int64) error
	ListDetails(ctx context.Context, setoffID int64) ([]SetoffDetail, error)
}

type sourceTable struct {
	lines  string
	header string
	party  string
}

var sourceTables = map[SourceType]sourceTable{
	SourcePurchaseReceiving: {lines: "purchase_receiving_details", header: "purchase_receivings", party: "supplier_id"},
	SourcePurchaseReturn:    {lines: "purchase_return_details", header: "purchase_returns", party: "supplier_id"},
	SourceSalesDelivery:     {lines: "sales_delivery_details", header: "sales_deliveries", party: "customer_id"},
	SourceSalesReturn:       {lines: "sales_return_details", header: "sales_returns", party: "customer_id"},
}

func tableFor(sourceType SourceType) (sourceTable, error) {
	table, ok := sourceTables[sourceType]
	if !ok {
		return sourceTable{}, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return table, nil
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed reconciliation repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetSetoff(ctx context.Context, id int64) (Setoff, error) {
	q := db.Conn(ctx, r.pool)
	setoff, err := scanSetoff(q.QueryRow(ctx, `SELECT `+setoffColumns+` FROM setoffs WHERE id=$1`, id))
	if err != nil {
		return Setoff{}, err
	}
	setoff.Details, err = listDetails(ctx, q, id, "")
	if err != nil {
		return Setoff{}, err
	}
	return setoff, nil
}

func (r *repository) GetSourceLine(ctx context.Context, sourceType SourceType, id int64) (SourceLine, error) {
	return selectSourceLine(ctx, db.Conn(ctx, r.pool), sourceType, id, "")
}

func selectSourceLine(ctx context.Context, q db.Querier, sourceType SourceType, id int64, lock string) (SourceLine, error) {
	table, err := tableFor(sourceType)
	if err != nil {
		return SourceLine{}, err
	}
	line := SourceLine{Type: sourceType}
	err = q.QueryRow(ctx, fmt.Sprintf(`SELECT l.id, l.document_id, h.%s, l.total_amount, l.settled_amount, l.is_settled
FROM %s l JOIN %s h ON h.id = l.document_id
WHERE l.id=$1%s`, table.party, table.lines, table.header, lock), id).
		Scan(&line.ID, &line.DocumentID, &line.CounterpartyID, &line.TotalAmount, &line.SettledAmount, &line.IsSettled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SourceLine{}, fmt.Errorf("%w: %s %d", ErrSourceLineNotFound, sourceType, id)
		}
		return SourceLine{}, err
	}
	return line, nil
}

const setoffColumns = `id, code, kind, counterparty_id, setoff_date, total_amount, prepayment_amount, journalized, COALESCE(created_by, 0)`

func scanSetoff(row pgx.Row) (Setoff, error) {
	var s Setoff
	err := row.Scan(&s.ID, &s.Code, &s.Kind, &s.CounterpartyID, &s.SetoffDate, &s.TotalAmount, &s.PrepaymentAmount, &s.Journalized, &s.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Setoff{}, ErrSetoffNotFound
		}
		return Setoff{}, err
	}
	return s, nil
}

const detailColumns = `id, setoff_id, source_type, source_line_id, current_amount, total_amount`

func scanDetail(row pgx.Row) (SetoffDetail, error) {
	var d SetoffDetail
	err := row.Scan(&d.ID, &d.SetoffID, &d.SourceType, &d.SourceLineID, &d.CurrentAmount, &d.TotalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SetoffDetail{}, ErrDetailNotFound
		}
		return SetoffDetail{}, err
	}
	return d, nil
}

func listDetails(ctx context.Context, q db.Querier, setoffID int64, lock string) ([]SetoffDetail, error) {
	rows, err := q.Query(ctx, `SELECT `+detailColumns+` FROM setoff_details WHERE setoff_id=$1 ORDER BY id`+lock, setoffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []SetoffDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LockSourceLine(ctx context.Context, sourceType SourceType, id int64) (SourceLine, error) {
	return selectSourceLine(ctx, r.tx, sourceType, id, " FOR UPDATE OF l")
}

func (r *txRepository) SumDetails(ctx context.Context, sourceType SourceType, lineID, excludeDetailID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(current_amount), 0) FROM setoff_details
WHERE source_type=$1 AND source_line_id=$2 AND id<>$3`, string(sourceType), lineID, excludeDetailID).Scan(&sum)
	return sum, err
}

func (r *txRepository) SetSettled(ctx context.Context, sourceType SourceType, lineID int64, settled decimal.Decimal, isSettled bool) error {
	table, err := tableFor(sourceType)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET settled_amount=$2, is_settled=$3 WHERE id=$1`, table.lines), lineID, settled, isSettled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", ErrSourceLineNotFound, sourceType, lineID)
	}
	return nil
}

func (r *txRepository) ScanSourceLines(ctx context.Context, sourceType SourceType) ([]LineState, error) {
	table, err := tableFor(sourceType)
	if err != nil {
		return nil, err
	}
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT l.id, l.document_id, h.%s, l.total_amount, l.settled_amount, l.is_settled, COALESCE(s.amount, 0)
FROM %s l
JOIN %s h ON h.id = l.document_id
LEFT JOIN (
    SELECT source_line_id, SUM(current_amount) AS amount
    FROM setoff_details WHERE source_type=$1
    GROUP BY source_line_id
) s ON s.source_line_id = l.id
ORDER BY l.id
FOR UPDATE OF l`, table.party, table.lines, table.header), string(sourceType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var states []LineState
	for rows.Next() {
		state := LineState{Line: SourceLine{Type: sourceType}}
		if err := rows.Scan(&state.Line.ID, &state.Line.DocumentID, &state.Line.CounterpartyID, &state.Line.TotalAmount,
			&state.Line.SettledAmount, &state.Line.IsSettled, &state.DetailSum); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (r *txRepository) InsertSetoff(ctx context.Context, setoff Setoff) (Setoff, error) {
	var createdBy *int64
	if setoff.CreatedBy != 0 {
		createdBy = &setoff.CreatedBy
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO setoffs (code, kind, setoff_date, counterparty_id, total_amount, prepayment_amount, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		setoff.Code, string(setoff.Kind), setoff.SetoffDate, setoff.CounterpartyID, setoff.TotalAmount, setoff.PrepaymentAmount, createdBy).
		Scan(&setoff.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "setoffs_code_key") {
			return Setoff{}, fmt.Errorf("%w: code %s already used", ErrInvalidSetoff, setoff.Code)
		}
		return Setoff{}, err
	}
	return setoff, nil
}

func (r *txRepository) GetSetoffForUpdate(ctx context.Context, id int64) (Setoff, error) {
	return scanSetoff(r.tx.QueryRow(ctx, `SELECT `+setoffColumns+` FROM setoffs WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateSetoffTotals(ctx context.Context, id int64, total, prepayment decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE setoffs SET total_amount=$2, prepayment_amount=$3 WHERE id=$1`, id, total, prepayment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSetoffNotFound
	}
	return nil
}

func (r *txRepository) DeleteSetoff(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM setoffs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSetoffNotFound
	}
	return nil
}

func (r *txRepository) InsertDetail(ctx context.Context, detail SetoffDetail) (SetoffDetail, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO setoff_details (setoff_id, source_type, source_line_id, current_amount, total_amount)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		detail.SetoffID, string(detail.SourceType), detail.SourceLineID, detail.CurrentAmount, detail.TotalAmount).Scan(&detail.ID)
	return detail, err
}

func (r *txRepository) GetDetailForUpdate(ctx context.Context, id int64) (SetoffDetail, error) {
	return scanDetail(r.tx.QueryRow(ctx, `SELECT `+detailColumns+` FROM setoff_details WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateDetail(ctx context.Context, id int64, current, total decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE setoff_details SET current_amount=$2, total_amount=$3 WHERE id=$1`, id, current, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDetailNotFound
	}
	return nil
}

func (r *txRepository) DeleteDetail(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM setoff_details WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDetailNotFound
	}
	return nil
}

func (r *txRepository) ListDetails(ctx context.Context, setoffID int64) ([]SetoffDetail, error) {
	return listDetails(ctx, r.tx, setoffID, " FOR UPDATE")
}
