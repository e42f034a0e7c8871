package journals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates journal lifecycle values.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPosted   Status = "POSTED"
	StatusReversed Status = "REVERSED"
)

// CanTransition reports whether the lifecycle allows moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPosted
	case StatusPosted:
		return next == StatusReversed
	default:
		return false
	}
}

// EntryType distinguishes how an entry was produced.
type EntryType string

const (
	EntryTypeManual    EntryType = "MANUAL"
	EntryTypeAuto      EntryType = "AUTO"
	EntryTypeReversing EntryType = "REVERSING"
)

// Direction is the side a line books to.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Valid reports whether d is exactly one of Debit or Credit.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Flip returns the opposite side.
func (d Direction) Flip() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// SourceRef links an entry to the business document it was generated from.
type SourceRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// Key is the deterministic idempotency key stored in source_links.
func (s SourceRef) Key() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", s.Type, s.ID)))
}

// JournalEntry captures header and lines of a ledger transaction.
type JournalEntry struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	EntryDate    time.Time       `json:"entry_date"`
	FiscalYear   int             `json:"fiscal_year"`
	FiscalPeriod int             `json:"fiscal_period"`
	Type         EntryType       `json:"type"`
	Status       Status          `json:"status"`
	TotalDebit   decimal.Decimal `json:"total_debit"`
	TotalCredit  decimal.Decimal `json:"total_credit"`
	Source       *SourceRef      `json:"source,omitempty"`
	ReversalOf   *int64          `json:"reversal_of,omitempty"`
	ReversedBy   *int64          `json:"reversed_by,omitempty"`
	Memo         string          `json:"memo"`
	CreatedBy    int64           `json:"created_by"`
	PostedBy     int64           `json:"posted_by,omitempty"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Lines        []JournalLine   `json:"lines,omitempty"`
}

// JournalLine stores one debit or credit amount for an account.
type JournalLine struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// FiscalPeriodOf maps a date onto calendar-month fiscal periods.
func FiscalPeriodOf(date time.Time) (year, period int) {
	return date.Year(), int(date.Month())
}

// Totals sums lines per side.
func Totals(lines []JournalLine) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		switch line.Direction {
		case Debit:
			debit = debit.Add(line.Amount)
		case Credit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// IntegrityIssue describes a booked entry whose stored totals disagree with its lines.
type IntegrityIssue struct {
	EntryID     int64
	Code        string
	Status      Status
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	LineDebit   decimal.Decimal
	LineCredit  decimal.Decimal
}
