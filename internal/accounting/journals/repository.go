package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (JournalEntry, error)
	FindBySource(ctx context.Context, sourceType string, sourceID int64) (JournalEntry, error)
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, int, error)
	ListIntegrityIssues(ctx context.Context) ([]IntegrityIssue, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	UpdateDraftHeader(ctx context.Context, entry JournalEntry) error
	GetForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	ReplaceLines(ctx context.Context, entryID int64, lines []JournalLine) error
	MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error
	MarkReversed(ctx context.Context, id, reversalID int64) error
	LinkSource(ctx context.Context, src SourceRef, entryID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed journal repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx joins the transaction carried by ctx or opens a new one.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, code, entry_date, fiscal_year, fiscal_period, entry_type, status, total_debit, total_credit,
source_type, source_id, source_code, reversal_of, reversed_by, memo, COALESCE(created_by, 0), COALESCE(posted_by, 0), posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e          JournalEntry
		sourceType *string
		sourceID   *int64
		sourceCode *string
	)
	err := row.Scan(&e.ID, &e.Code, &e.EntryDate, &e.FiscalYear, &e.FiscalPeriod, &e.Type, &e.Status, &e.TotalDebit, &e.TotalCredit,
		&sourceType, &sourceID, &sourceCode, &e.ReversalOf, &e.ReversedBy, &e.Memo, &e.CreatedBy, &e.PostedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if sourceType != nil && sourceID != nil {
		e.Source = &SourceRef{Type: *sourceType, ID: *sourceID}
		if sourceCode != nil {
			e.Source.Code = *sourceCode
		}
	}
	return e, nil
}

func loadLines(ctx context.Context, q db.Querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, direction, amount, description
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.Direction, &line.Amount, &line.Description); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (JournalEntry, error) {
	q := db.Conn(ctx, r.db)
	entry, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = loadLines(ctx, q, id)
	return entry, err
}

func (r *repository) FindBySource(ctx context.Context, sourceType string, sourceID int64) (JournalEntry, error) {
	q := db.Conn(ctx, r.db)
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_type=$1 AND source_id=$2`, sourceType, sourceID))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]JournalEntry, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if filter.SourceType != "" {
		add("source_type=$%d", filter.SourceType)
	}
	if filter.From != nil {
		add("entry_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("entry_date <= $%d", *filter.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	q := db.Conn(ctx, r.db)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM journal_entries%s ORDER BY entry_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		entryColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (r *repository) ListIntegrityIssues(ctx context.Context) ([]IntegrityIssue, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, `SELECT e.id, e.code, e.status, e.total_debit, e.total_credit,
       COALESCE(SUM(l.amount) FILTER (WHERE l.direction='DEBIT'), 0),
       COALESCE(SUM(l.amount) FILTER (WHERE l.direction='CREDIT'), 0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status IN ('POSTED','REVERSED')
GROUP BY e.id
HAVING e.total_debit <> e.total_credit
    OR COALESCE(SUM(l.amount) FILTER (WHERE l.direction='DEBIT'), 0) <> e.total_debit
    OR COALESCE(SUM(l.amount) FILTER (WHERE l.direction='CREDIT'), 0) <> e.total_credit
    OR COALESCE(SUM(l.amount) FILTER (WHERE l.direction='DEBIT'), 0) = 0
ORDER BY e.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var issues []IntegrityIssue
	for rows.Next() {
		var issue IntegrityIssue
		if err := rows.Scan(&issue.EntryID, &issue.Code, &issue.Status, &issue.TotalDebit, &issue.TotalCredit, &issue.LineDebit, &issue.LineCredit); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	var sourceType, sourceCode *string
	var sourceID *int64
	if entry.Source != nil {
		sourceType, sourceID, sourceCode = &entry.Source.Type, &entry.Source.ID, &entry.Source.Code
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (code, entry_date, fiscal_year, fiscal_period, entry_type, status,
total_debit, total_credit, source_type, source_id, source_code, reversal_of, memo, created_by, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id, created_at, updated_at`,
		entry.Code, entry.EntryDate, entry.FiscalYear, entry.FiscalPeriod, entry.Type, entry.Status,
		entry.TotalDebit, entry.TotalCredit, sourceType, sourceID, sourceCode, entry.ReversalOf, entry.Memo,
		nullInt(entry.CreatedBy), nullInt(entry.PostedBy), entry.PostedAt)
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, "uq_journal_entries_source") {
			return JournalEntry{}, shared.ErrSourceConflict
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) UpdateDraftHeader(ctx context.Context, entry JournalEntry) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET entry_date=$2, fiscal_year=$3, fiscal_period=$4, memo=$5,
total_debit=$6, total_credit=$7, updated_at=NOW() WHERE id=$1 AND status='DRAFT'`,
		entry.ID, entry.EntryDate, entry.FiscalYear, entry.FiscalPeriod, entry.Memo, entry.TotalDebit, entry.TotalCredit)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPostedImmutable
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = loadLines(ctx, r.tx, id)
	return entry, err
}

func (r *txRepository) ReplaceLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_no, account_id, direction, amount, description)
VALUES ($1,$2,$3,$4,$5,$6)`, entryID, line.LineNo, line.AccountID, line.Direction, line.Amount, line.Description)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_by=$2, posted_at=$3, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, id, nullInt(actorID), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkReversed(ctx context.Context, id, reversalID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='REVERSED', reversed_by=$2, updated_at=NOW()
WHERE id=$1 AND status='POSTED'`, id, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, src SourceRef, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (source_type, ref_id, source_id, entry_id) VALUES ($1,$2,$3,$4)`,
		src.Type, src.Key(), src.ID, entryID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_source_links") {
			return shared.ErrSourceConflict
		}
		return err
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
