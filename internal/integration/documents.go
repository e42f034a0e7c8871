package integration

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// DocumentType identifies a journalizable business document.
type DocumentType string

const (
	DocPurchaseReceiving DocumentType = "PURCHASE_RECEIVING"
	DocPurchaseReturn    DocumentType = "PURCHASE_RETURN"
	DocSalesDelivery     DocumentType = "SALES_DELIVERY"
	DocSalesReturn       DocumentType = "SALES_RETURN"
	DocReceivableSetoff  DocumentType = "RECEIVABLE_SETOFF"
	DocPayableSetoff     DocumentType = "PAYABLE_SETOFF"
)

// DocumentTypes lists every supported document type.
var DocumentTypes = []DocumentType{
	DocPurchaseReceiving, DocPurchaseReturn, DocSalesDelivery,
	DocSalesReturn, DocReceivableSetoff, DocPayableSetoff,
}

var codePrefixes = map[DocumentType]string{
	DocPurchaseReceiving: "JRCV",
	DocPurchaseReturn:    "JPRT",
	DocSalesDelivery:     "JDLV",
	DocSalesReturn:       "JSRT",
	DocReceivableSetoff:  "JARS",
	DocPayableSetoff:     "JAPS",
}

// Valid reports whether t is a supported document type.
func (t DocumentType) Valid() bool {
	_, ok := codePrefixes[t]
	return ok
}

// EntryCode is the journal entry code for a document code.
func (t DocumentType) EntryCode(docCode string) string {
	return codePrefixes[t] + "-" + docCode
}

var (
	// ErrAlreadyJournalized indicates the document already produced a journal entry.
	ErrAlreadyJournalized = shared.NewPrecondition("integration: document already journalized")
	// ErrUnsupportedDocument indicates an unknown document type.
	ErrUnsupportedDocument = shared.NewValidation("integration: unsupported document type")
	// ErrDocumentNotFound indicates a missing source document.
	ErrDocumentNotFound = shared.NewNotFound("integration: document not found")
	// ErrDocumentInconsistent indicates document amounts that cannot form a journal.
	ErrDocumentInconsistent = shared.NewIntegrity("integration: document amounts inconsistent")
)

// DocumentLine is a per-product amount of a goods document.
type DocumentLine struct {
	ProductID int64
	Amount    decimal.Decimal
}

// Document is the journalization view of a source document. Return amounts are
// positive magnitudes.
type Document struct {
	Type             DocumentType
	ID               int64
	Code             string
	Date             time.Time
	CounterpartyID   int64
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	PrepaymentAmount decimal.Decimal
	Lines            []DocumentLine
	Journalized      bool
	JournalEntryID   *int64
}

// Total is subtotal plus tax.
func (d Document) Total() decimal.Decimal {
	return d.Subtotal.Add(d.TaxAmount)
}

// DocumentRepository loads and flags source documents.
type DocumentRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DocumentTx) error) error
}

// DocumentTx runs inside a document transaction.
type DocumentTx interface {
	GetForUpdate(ctx context.Context, docType DocumentType, id int64) (Document, error)
	MarkJournalized(ctx context.Context, docType DocumentType, id, entryID int64) error
}

// Ledger records posted journal entries.
type Ledger interface {
	Record(ctx context.Context, input journals.SaveInput) (journals.JournalEntry, error)
	FindBySource(ctx context.Context, sourceType string, sourceID int64) (journals.JournalEntry, error)
	Get(ctx context.Context, id int64) (journals.JournalEntry, error)
}

// AccountResolver resolves linked sub-accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, kind accounts.LinkKind, entityID int64) (accounts.AccountItem, error)
}

// MappingRepository looks up fixed accounts.
type MappingRepository interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// CostSource reports the stock-movement cost of a document.
type CostSource interface {
	MovementCost(ctx context.Context, refModule string, refID int64) (decimal.Decimal, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives journalization outcomes.
type Recorder interface {
	ObserveJournalize(kind, result string)
}
