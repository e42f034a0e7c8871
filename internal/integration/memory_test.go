package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/mappings"
	accshared "github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

type docKey struct {
	docType DocumentType
	id      int64
}

// world holds documents and ledger entries so one rollback restores both.
type world struct {
	mu        sync.Mutex
	inTx      bool
	docs      map[docKey]Document
	entries   []journals.JournalEntry
	markErr   error
	recordErr error
}

func newWorld() *world {
	return &world{docs: map[docKey]Document{}}
}

func (w *world) put(doc Document) {
	w.docs[docKey{doc.Type, doc.ID}] = doc
}

func (w *world) doc(docType DocumentType, id int64) Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.docs[docKey{docType, id}]
}

func (w *world) entryCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

type txMarker struct{}

func (w *world) WithTx(ctx context.Context, fn func(context.Context, DocumentTx) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx, w)
	}
	w.mu.Lock()
	docs := make(map[docKey]Document, len(w.docs))
	for k, v := range w.docs {
		docs[k] = v
	}
	entries := append([]journals.JournalEntry(nil), w.entries...)
	w.mu.Unlock()

	err := fn(context.WithValue(ctx, txMarker{}, true), w)
	if err != nil {
		w.mu.Lock()
		w.docs, w.entries = docs, entries
		w.mu.Unlock()
	}
	return err
}

func (w *world) GetForUpdate(_ context.Context, docType DocumentType, id int64) (Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[docKey{docType, id}]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	doc.Lines = append([]DocumentLine(nil), doc.Lines...)
	return doc, nil
}

func (w *world) MarkJournalized(_ context.Context, docType DocumentType, id, entryID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.markErr != nil {
		return w.markErr
	}
	key := docKey{docType, id}
	doc := w.docs[key]
	if doc.Journalized {
		return ErrAlreadyJournalized
	}
	doc.Journalized = true
	doc.JournalEntryID = &entryID
	w.docs[key] = doc
	return nil
}

// ledger is a Ledger over world that enforces posting rules like the journal service.
type ledger struct{ w *world }

func (l ledger) Record(_ context.Context, input journals.SaveInput) (journals.JournalEntry, error) {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	if l.w.recordErr != nil {
		return journals.JournalEntry{}, l.w.recordErr
	}
	if err := input.Validate(); err != nil {
		return journals.JournalEntry{}, err
	}
	for _, e := range l.w.entries {
		if e.Source != nil && input.Source != nil && e.Source.Type == input.Source.Type && e.Source.ID == input.Source.ID {
			return journals.JournalEntry{}, accshared.ErrSourceAlreadyLinked
		}
	}
	id := int64(len(l.w.entries) + 1)
	lines := journals.BuildLines(id, input.Lines)
	if err := journals.ValidatePosting(lines); err != nil {
		return journals.JournalEntry{}, err
	}
	debit, credit := journals.Totals(lines)
	entry := journals.JournalEntry{
		ID: id, Code: input.Code, EntryDate: input.EntryDate, Type: input.Type,
		Status: journals.StatusPosted, TotalDebit: debit, TotalCredit: credit,
		Source: input.Source, Memo: input.Memo, CreatedBy: input.ActorID, Lines: lines,
	}
	l.w.entries = append(l.w.entries, entry)
	return entry, nil
}

func (l ledger) Get(_ context.Context, id int64) (journals.JournalEntry, error) {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	for _, e := range l.w.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return journals.JournalEntry{}, accshared.ErrJournalNotFound
}

func (l ledger) FindBySource(_ context.Context, sourceType string, sourceID int64) (journals.JournalEntry, error) {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	for _, e := range l.w.entries {
		if e.Source != nil && e.Source.Type == sourceType && e.Source.ID == sourceID {
			return e, nil
		}
	}
	return journals.JournalEntry{}, accshared.ErrJournalNotFound
}

// Account ids are kind base * 1000 + entity id; entity 0 is the control account.
var kindBase = map[accounts.LinkKind]int64{
	accounts.LinkReceivable:     11,
	accounts.LinkInventory:      12,
	accounts.LinkAdvancePayment: 13,
	accounts.LinkPayable:        21,
	accounts.LinkAdvanceReceipt: 22,
	accounts.LinkSalesReturn:    41,
}

type resolver struct{}

func (resolver) Resolve(_ context.Context, kind accounts.LinkKind, entityID int64) (accounts.AccountItem, error) {
	base, ok := kindBase[kind]
	if !ok {
		return accounts.AccountItem{}, fmt.Errorf("unexpected kind %s", kind)
	}
	return accounts.AccountItem{ID: base*1000 + entityID, LinkKind: kind}, nil
}

const (
	acctCash      = 1101
	acctInputTax  = 1281
	acctOutputTax = 2181
	acctRevenue   = 4101
	acctCOGS      = 5101
)

type mappingTable map[string]int64

func defaultMappings() mappingTable {
	return mappingTable{
		mappings.ModuleTreasury + "/" + mappings.KeyCash:        acctCash,
		mappings.ModuleProcurement + "/" + mappings.KeyInputTax: acctInputTax,
		mappings.ModuleSales + "/" + mappings.KeyRevenue:        acctRevenue,
		mappings.ModuleSales + "/" + mappings.KeyOutputTax:      acctOutputTax,
		mappings.ModuleSales + "/" + mappings.KeyCOGS:           acctCOGS,
	}
}

func (m mappingTable) Get(_ context.Context, module, key string) (mappings.AccountMapping, error) {
	id, ok := m[module+"/"+key]
	if !ok {
		return mappings.AccountMapping{}, fmt.Errorf("%w: %s/%s", accshared.ErrMappingNotFound, module, key)
	}
	return mappings.AccountMapping{Module: module, Key: key, AccountID: id}, nil
}

type costTable map[docKey]decimal.Decimal

func (c costTable) MovementCost(_ context.Context, refModule string, refID int64) (decimal.Decimal, error) {
	if refModule == "" {
		return decimal.Zero, errors.New("ref module required")
	}
	return c[docKey{DocumentType(refModule), refID}], nil
}

type auditSpy struct {
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type recorderSpy struct {
	counts map[string]int
}

func (r *recorderSpy) ObserveJournalize(kind, result string) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[kind+":"+result]++
}
