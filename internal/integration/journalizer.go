package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/mappings"
	accshared "github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Journalizer turns source documents into posted journal entries, at most one
// per document.
type Journalizer struct {
	docs     DocumentRepository
	ledger   Ledger
	resolver AccountResolver
	mappings MappingRepository
	costs    CostSource
	audit    AuditPort
	metrics  Recorder
	logger   *slog.Logger
}

// NewJournalizer wires the journalizer dependencies.
func NewJournalizer(docs DocumentRepository, ledger Ledger, resolver AccountResolver, mappingRepo MappingRepository, costs CostSource, logger *slog.Logger) *Journalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journalizer{docs: docs, ledger: ledger, resolver: resolver, mappings: mappingRepo, costs: costs, logger: logger}
}

// WithAudit attaches an audit trail sink.
func (j *Journalizer) WithAudit(audit AuditPort) *Journalizer {
	j.audit = audit
	return j
}

// WithMetrics attaches an outcome recorder.
func (j *Journalizer) WithMetrics(metrics Recorder) *Journalizer {
	j.metrics = metrics
	return j
}

// Journalize books the journal entry for a document. Saving, posting and flagging
// the document happen in one transaction.
func (j *Journalizer) Journalize(ctx context.Context, docType DocumentType, id int64) (journals.JournalEntry, error) {
	if !docType.Valid() {
		return journals.JournalEntry{}, fmt.Errorf("%w: %q", ErrUnsupportedDocument, docType)
	}
	if id <= 0 {
		return journals.JournalEntry{}, fmt.Errorf("%w: document id required", ErrUnsupportedDocument)
	}
	actorID := shared.ActorFromContext(ctx)
	var entry journals.JournalEntry
	err := j.docs.WithTx(ctx, func(ctx context.Context, tx DocumentTx) error {
		doc, err := tx.GetForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}
		existing, err := j.ledger.FindBySource(ctx, string(docType), id)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrAlreadyJournalized, existing.Code)
		case !errors.Is(err, accshared.ErrJournalNotFound):
			return err
		}
		if doc.Journalized {
			return fmt.Errorf("%w: %s", ErrAlreadyJournalized, j.existingEntryCode(ctx, docType, doc))
		}
		lines, err := j.buildLines(ctx, doc)
		if err != nil {
			return err
		}
		entry, err = j.ledger.Record(ctx, journals.SaveInput{
			Code:      docType.EntryCode(doc.Code),
			EntryDate: doc.Date,
			Type:      journals.EntryTypeAuto,
			Memo:      fmt.Sprintf("%s %s", docType, doc.Code),
			Source:    &journals.SourceRef{Type: string(docType), ID: doc.ID, Code: doc.Code},
			ActorID:   actorID,
			Lines:     lines,
		})
		if err != nil {
			if errors.Is(err, accshared.ErrSourceAlreadyLinked) {
				return fmt.Errorf("%w: %s", ErrAlreadyJournalized, docType.EntryCode(doc.Code))
			}
			return err
		}
		return tx.MarkJournalized(ctx, docType, id, entry.ID)
	})
	if err != nil {
		j.observe(docType, err)
		if !errors.Is(err, ErrAlreadyJournalized) {
			j.logger.Warn("journalize failed",
				slog.String("source_type", string(docType)),
				slog.Int64("source_id", id),
				slog.Any("error", err))
		}
		return journals.JournalEntry{}, err
	}
	j.observe(docType, nil)
	j.logger.Info("document journalized",
		slog.String("source_type", string(docType)),
		slog.Int64("source_id", id),
		slog.String("entry_code", entry.Code),
		slog.Int64("entry_id", entry.ID))
	if j.audit != nil {
		if err := j.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "journal.autopost",
			Entity:   "journal_entry",
			EntityID: strconv.FormatInt(entry.ID, 10),
			Meta:     map[string]any{"source_type": string(docType), "source_id": id, "code": entry.Code},
		}); err != nil {
			j.logger.Warn("audit write failed", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		}
	}
	return entry, nil
}

// existingEntryCode names the entry a flagged document points at, falling back
// to the code the journalizer would have given it.
func (j *Journalizer) existingEntryCode(ctx context.Context, docType DocumentType, doc Document) string {
	if doc.JournalEntryID != nil {
		if entry, err := j.ledger.Get(ctx, *doc.JournalEntryID); err == nil {
			return entry.Code
		}
	}
	return docType.EntryCode(doc.Code)
}

func (j *Journalizer) observe(docType DocumentType, err error) {
	if j.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, ErrAlreadyJournalized):
		result = "duplicate"
	case err != nil:
		result = "failure"
	}
	j.metrics.ObserveJournalize(string(docType), result)
}

func (j *Journalizer) buildLines(ctx context.Context, doc Document) ([]journals.LineInput, error) {
	if err := checkAmounts(doc); err != nil {
		return nil, err
	}
	set := newLineSet()
	var err error
	switch doc.Type {
	case DocPurchaseReceiving:
		err = j.purchaseLines(ctx, set, doc, journals.Debit)
	case DocPurchaseReturn:
		err = j.purchaseLines(ctx, set, doc, journals.Credit)
	case DocSalesDelivery:
		err = j.deliveryLines(ctx, set, doc)
	case DocSalesReturn:
		err = j.salesReturnLines(ctx, set, doc)
	case DocReceivableSetoff, DocPayableSetoff:
		err = j.setoffLines(ctx, set, doc)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedDocument, doc.Type)
	}
	if err != nil {
		return nil, err
	}
	return set.inputs(), nil
}

// purchaseLines books inventory and input tax against the supplier payable.
// goods is the direction of the inventory side; returns mirror receivings.
func (j *Journalizer) purchaseLines(ctx context.Context, set *lineSet, doc Document, goods journals.Direction) error {
	payable, err := j.resolver.Resolve(ctx, accounts.LinkPayable, doc.CounterpartyID)
	if err != nil {
		return err
	}
	if len(doc.Lines) == 0 {
		inventory, err := j.resolver.Resolve(ctx, accounts.LinkInventory, 0)
		if err != nil {
			return err
		}
		set.add(inventory.ID, goods, doc.Subtotal, "inventory")
	} else {
		sum := decimal.Zero
		for _, line := range doc.Lines {
			sum = sum.Add(line.Amount)
		}
		if !sum.Equal(doc.Subtotal) {
			return fmt.Errorf("%w: %s line total %s differs from subtotal %s", ErrDocumentInconsistent, doc.Code, sum.StringFixed(2), doc.Subtotal.StringFixed(2))
		}
		for _, line := range doc.Lines {
			inventory, err := j.resolver.Resolve(ctx, accounts.LinkInventory, line.ProductID)
			if err != nil {
				return err
			}
			set.add(inventory.ID, goods, line.Amount, "inventory")
		}
	}
	if doc.TaxAmount.IsPositive() {
		tax, err := j.mapped(ctx, mappings.ModuleProcurement, mappings.KeyInputTax)
		if err != nil {
			return err
		}
		set.add(tax, goods, doc.TaxAmount, "input tax")
	}
	set.add(payable.ID, goods.Flip(), doc.Total(), "payable")
	return nil
}

func (j *Journalizer) deliveryLines(ctx context.Context, set *lineSet, doc Document) error {
	receivable, err := j.resolver.Resolve(ctx, accounts.LinkReceivable, doc.CounterpartyID)
	if err != nil {
		return err
	}
	revenue, err := j.mapped(ctx, mappings.ModuleSales, mappings.KeyRevenue)
	if err != nil {
		return err
	}
	set.debit(receivable.ID, doc.Total(), "receivable")
	set.credit(revenue, doc.Subtotal, "revenue")
	if doc.TaxAmount.IsPositive() {
		tax, err := j.mapped(ctx, mappings.ModuleSales, mappings.KeyOutputTax)
		if err != nil {
			return err
		}
		set.credit(tax, doc.TaxAmount, "output tax")
	}
	cogs, inventory, cost, err := j.costPair(ctx, doc)
	if err != nil {
		return err
	}
	set.pair(cogs, inventory, cost, "cost of goods sold")
	return nil
}

func (j *Journalizer) salesReturnLines(ctx context.Context, set *lineSet, doc Document) error {
	returns, err := j.resolver.Resolve(ctx, accounts.LinkSalesReturn, doc.CounterpartyID)
	if err != nil {
		return err
	}
	receivable, err := j.resolver.Resolve(ctx, accounts.LinkReceivable, doc.CounterpartyID)
	if err != nil {
		return err
	}
	set.debit(returns.ID, doc.Subtotal, "sales return")
	if doc.TaxAmount.IsPositive() {
		tax, err := j.mapped(ctx, mappings.ModuleSales, mappings.KeyOutputTax)
		if err != nil {
			return err
		}
		set.debit(tax, doc.TaxAmount, "output tax")
	}
	set.credit(receivable.ID, doc.Total(), "receivable")
	cogs, inventory, cost, err := j.costPair(ctx, doc)
	if err != nil {
		return err
	}
	set.pair(inventory, cogs, cost, "cost of goods returned")
	return nil
}

// costPair returns the COGS and inventory accounts with the movement cost. The
// accounts are only looked up when the cost is positive.
func (j *Journalizer) costPair(ctx context.Context, doc Document) (cogs, inventory int64, cost decimal.Decimal, err error) {
	if j.costs == nil {
		return 0, 0, decimal.Zero, nil
	}
	cost, err = j.costs.MovementCost(ctx, string(doc.Type), doc.ID)
	if err != nil {
		return 0, 0, decimal.Zero, err
	}
	if !cost.IsPositive() {
		return 0, 0, decimal.Zero, nil
	}
	cogs, err = j.mapped(ctx, mappings.ModuleSales, mappings.KeyCOGS)
	if err != nil {
		return 0, 0, decimal.Zero, err
	}
	control, err := j.resolver.Resolve(ctx, accounts.LinkInventory, 0)
	if err != nil {
		return 0, 0, decimal.Zero, err
	}
	return cogs, control.ID, cost, nil
}

// setoffLines settles the counterparty balance with cash and any prepayment.
func (j *Journalizer) setoffLines(ctx context.Context, set *lineSet, doc Document) error {
	if doc.PrepaymentAmount.GreaterThan(doc.Subtotal) {
		return fmt.Errorf("%w: %s prepayment %s exceeds total %s", ErrDocumentInconsistent, doc.Code, doc.PrepaymentAmount.StringFixed(2), doc.Subtotal.StringFixed(2))
	}
	cash, err := j.mapped(ctx, mappings.ModuleTreasury, mappings.KeyCash)
	if err != nil {
		return err
	}
	net := doc.Subtotal.Sub(doc.PrepaymentAmount)
	if doc.Type == DocReceivableSetoff {
		receivable, err := j.resolver.Resolve(ctx, accounts.LinkReceivable, doc.CounterpartyID)
		if err != nil {
			return err
		}
		set.debit(cash, net, "cash")
		if doc.PrepaymentAmount.IsPositive() {
			advance, err := j.resolver.Resolve(ctx, accounts.LinkAdvanceReceipt, doc.CounterpartyID)
			if err != nil {
				return err
			}
			set.debit(advance.ID, doc.PrepaymentAmount, "advance receipt")
		}
		set.credit(receivable.ID, doc.Subtotal, "receivable")
		return nil
	}
	payable, err := j.resolver.Resolve(ctx, accounts.LinkPayable, doc.CounterpartyID)
	if err != nil {
		return err
	}
	set.debit(payable.ID, doc.Subtotal, "payable")
	set.credit(cash, net, "cash")
	if doc.PrepaymentAmount.IsPositive() {
		advance, err := j.resolver.Resolve(ctx, accounts.LinkAdvancePayment, doc.CounterpartyID)
		if err != nil {
			return err
		}
		set.credit(advance.ID, doc.PrepaymentAmount, "advance payment")
	}
	return nil
}

func (j *Journalizer) mapped(ctx context.Context, module, key string) (int64, error) {
	mapping, err := j.mappings.Get(ctx, module, key)
	if err != nil {
		return 0, err
	}
	return mapping.AccountID, nil
}

func checkAmounts(doc Document) error {
	if doc.Subtotal.IsNegative() || doc.TaxAmount.IsNegative() || doc.PrepaymentAmount.IsNegative() {
		return fmt.Errorf("%w: %s has negative amounts", ErrDocumentInconsistent, doc.Code)
	}
	for _, line := range doc.Lines {
		if line.Amount.IsNegative() {
			return fmt.Errorf("%w: %s product %d negative amount", ErrDocumentInconsistent, doc.Code, line.ProductID)
		}
	}
	return nil
}
