package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Epsilon absorbs rounding when comparing settled amounts with line totals.
var Epsilon = decimal.New(5, -3)

// SourceType names a settleable source line table.
type SourceType string

const (
	SourcePurchaseReceiving SourceType = "PURCHASE_RECEIVING"
	SourcePurchaseReturn    SourceType = "PURCHASE_RETURN"
	SourceSalesDelivery     SourceType = "SALES_DELIVERY"
	SourceSalesReturn       SourceType = "SALES_RETURN"
)

// SourceTypes lists every source type in rebuild order.
var SourceTypes = []SourceType{SourcePurchaseReceiving, SourcePurchaseReturn, SourceSalesDelivery, SourceSalesReturn}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourcePurchaseReceiving, SourcePurchaseReturn, SourceSalesDelivery, SourceSalesReturn:
		return true
	}
	return false
}

// Kind is the setoff kind allowed to settle lines of this type.
func (t SourceType) Kind() SetoffKind {
	switch t {
	case SourceSalesDelivery, SourceSalesReturn:
		return KindReceivable
	case SourcePurchaseReceiving, SourcePurchaseReturn:
		return KindPayable
	}
	return ""
}

// IsReturn reports whether lines of this type reduce the setoff total.
func (t SourceType) IsReturn() bool {
	return t == SourcePurchaseReturn || t == SourceSalesReturn
}

// SetoffKind distinguishes customer from supplier settlements.
type SetoffKind string

const (
	KindReceivable SetoffKind = "RECEIVABLE"
	KindPayable    SetoffKind = "PAYABLE"
)

// PrepaymentKind is the advance kind a setoff of this kind may consume.
func (k SetoffKind) PrepaymentKind() prepayment.Kind {
	if k == KindPayable {
		return prepayment.KindPayment
	}
	return prepayment.KindReceipt
}

// SourceLine is a document detail row carrying the settled cache.
type SourceLine struct {
	Type           SourceType      `json:"type"`
	ID             int64           `json:"id"`
	DocumentID     int64           `json:"document_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	SettledAmount  decimal.Decimal `json:"settled_amount"`
	IsSettled      bool            `json:"is_settled"`
}

// Remaining is the unsettled amount, never below zero.
func (l SourceLine) Remaining() decimal.Decimal {
	rest := l.TotalAmount.Sub(l.SettledAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Setoff is a reconciliation document.
type Setoff struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Kind             SetoffKind      `json:"kind"`
	CounterpartyID   int64           `json:"counterparty_id"`
	SetoffDate       time.Time       `json:"setoff_date"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PrepaymentAmount decimal.Decimal `json:"prepayment_amount"`
	Journalized      bool            `json:"journalized"`
	CreatedBy        int64           `json:"created_by"`
	Details          []SetoffDetail  `json:"details,omitempty"`
}

// SetoffDetail settles part of one source line. TotalAmount is the line's
// cumulative settled position including this detail when it was written.
type SetoffDetail struct {
	ID            int64           `json:"id"`
	SetoffID      int64           `json:"setoff_id"`
	SourceType    SourceType      `json:"source_type"`
	SourceLineID  int64           `json:"source_line_id"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

type lineRef struct {
	Type SourceType
	ID   int64
}

func (d SetoffDetail) line() lineRef {
	return lineRef{Type: d.SourceType, ID: d.SourceLineID}
}

// LineState pairs a source line with the sum of its details, for rebuilds.
type LineState struct {
	Line      SourceLine
	DetailSum decimal.Decimal
}

// RebuildResult reports one source type's rebuild.
type RebuildResult struct {
	SourceType SourceType `json:"source_type"`
	Scanned    int        `json:"scanned"`
	Corrected  int        `json:"corrected"`
	Violations int        `json:"violations"`
}

var (
	// ErrInvalidAmount indicates a detail amount that is not positive.
	ErrInvalidAmount = shared.NewValidation("reconciliation: amount must be positive")
	// ErrExceedsLineTotal indicates a settlement above the source line total.
	ErrExceedsLineTotal = shared.NewValidation("reconciliation: settled amount exceeds line total")
	// ErrUnknownSourceType indicates an unsupported source type.
	ErrUnknownSourceType = shared.NewValidation("reconciliation: unknown source type")
	// ErrKindMismatch indicates a line or prepayment that belongs to the other side.
	ErrKindMismatch = shared.NewValidation("reconciliation: source does not match setoff kind")
	// ErrCounterpartyMismatch indicates a line or prepayment of another counterparty.
	ErrCounterpartyMismatch = shared.NewValidation("reconciliation: counterparty mismatch")
	// ErrInvalidSetoff indicates a malformed setoff document.
	ErrInvalidSetoff = shared.NewValidation("reconciliation: invalid setoff")
	// ErrNegativeTotal indicates returns larger than the settled goods.
	ErrNegativeTotal = shared.NewValidation("reconciliation: setoff total is negative")
	// ErrPrepaymentExceedsTotal indicates prepayments above the setoff total.
	ErrPrepaymentExceedsTotal = shared.NewValidation("reconciliation: prepayment exceeds setoff total")
	// ErrSetoffJournalized indicates an edit of a journalized setoff.
	ErrSetoffJournalized = shared.NewPrecondition("reconciliation: setoff already journalized")
	// ErrRebuildRunning indicates another rebuild holds the lock.
	ErrRebuildRunning = shared.NewPrecondition("reconciliation: rebuild already running")
	// ErrSetoffNotFound indicates a missing setoff.
	ErrSetoffNotFound = shared.NewNotFound("reconciliation: setoff not found")
	// ErrDetailNotFound indicates a missing setoff detail.
	ErrDetailNotFound = shared.NewNotFound("reconciliation: setoff detail not found")
	// ErrSourceLineNotFound indicates a missing source line.
	ErrSourceLineNotFound = shared.NewNotFound("reconciliation: source line not found")
	// ErrOverSettled indicates lines whose details exceed their total, found by rebuild.
	ErrOverSettled = shared.NewIntegrity("reconciliation: source lines over-settled")
)
