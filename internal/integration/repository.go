package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
)

type documentTable struct {
	header       string
	party        string
	details      string
	productLines bool
	kind         string
}

var documentTables = map[DocumentType]documentTable{
	DocPurchaseReceiving: {header: "purchase_receivings", party: "supplier_id", details: "purchase_receiving_details", productLines: true},
	DocPurchaseReturn:    {header: "purchase_returns", party: "supplier_id", details: "purchase_return_details", productLines: true},
	DocSalesDelivery:     {header: "sales_deliveries", party: "customer_id"},
	DocSalesReturn:       {header: "sales_returns", party: "customer_id"},
	DocReceivableSetoff:  {header: "setoffs", kind: "RECEIVABLE"},
	DocPayableSetoff:     {header: "setoffs", kind: "PAYABLE"},
}

type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository returns the pgx-backed document repository.
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepository{pool: pool}
}

func (r *documentRepository) WithTx(ctx context.Context, fn func(context.Context, DocumentTx) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &documentTx{tx: tx})
	})
}

type documentTx struct {
	tx pgx.Tx
}

func (t *documentTx) GetForUpdate(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	table, ok := documentTables[docType]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedDocument, docType)
	}
	doc := Document{Type: docType, ID: id}
	var row pgx.Row
	if table.kind != "" {
		row = t.tx.QueryRow(ctx, `SELECT code, setoff_date, counterparty_id, total_amount, 0::numeric, prepayment_amount, journalized, journal_entry_id
FROM setoffs WHERE id=$1 AND kind=$2 FOR UPDATE`, id, table.kind)
	} else {
		row = t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT code, doc_date, %s, subtotal, tax_amount, 0::numeric, journalized, journal_entry_id
FROM %s WHERE id=$1 FOR UPDATE`, table.party, table.header), id)
	}
	err := row.Scan(&doc.Code, &doc.Date, &doc.CounterpartyID, &doc.Subtotal, &doc.TaxAmount, &doc.PrepaymentAmount, &doc.Journalized, &doc.JournalEntryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: %s %d", ErrDocumentNotFound, docType, id)
		}
		return Document{}, err
	}
	if !table.productLines {
		return doc, nil
	}
	rows, err := t.tx.Query(ctx, fmt.Sprintf(`SELECT product_id, SUM(total_amount) FROM %s WHERE document_id=$1 GROUP BY product_id ORDER BY MIN(id)`, table.details), id)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line DocumentLine
		if err := rows.Scan(&line.ProductID, &line.Amount); err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func (t *documentTx) MarkJournalized(ctx context.Context, docType DocumentType, id, entryID int64) error {
	table, ok := documentTables[docType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedDocument, docType)
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET journalized=TRUE, journal_entry_id=$2 WHERE id=$1 AND journalized=FALSE`, table.header), id, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", ErrAlreadyJournalized, docType, id)
	}
	return nil
}
