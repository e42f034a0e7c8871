package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
)

// LineInput describes a journal line for a save request.
type LineInput struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Direction   Direction       `json:"direction" validate:"required,oneof=DEBIT CREDIT"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

// SaveInput groups fields required to create or replace a draft entry.
// A zero ID creates a new entry.
type SaveInput struct {
	ID        int64       `json:"id"`
	Code      string      `json:"code" validate:"required,max=64"`
	EntryDate time.Time   `json:"entry_date" validate:"required"`
	Type      EntryType   `json:"type"`
	Memo      string      `json:"memo" validate:"max=500"`
	Source    *SourceRef  `json:"source,omitempty"`
	ActorID   int64       `json:"-"`
	Lines     []LineInput `json:"lines" validate:"dive"`
}

// Validate ensures save input meets minimum criteria. Balance is checked at posting.
func (in SaveInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("%w: code required", shared.ErrInvalidEntry)
	}
	if in.EntryDate.IsZero() {
		return fmt.Errorf("%w: entry date required", shared.ErrInvalidEntry)
	}
	if in.Source != nil && (in.Source.Type == "" || in.Source.ID == 0) {
		return fmt.Errorf("%w: source type and id required", shared.ErrInvalidEntry)
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", shared.ErrInvalidLine, idx+1)
		}
		if !line.Direction.Valid() {
			return fmt.Errorf("%w: line %d direction %q", shared.ErrInvalidLine, idx+1, line.Direction)
		}
		if !line.Amount.IsPositive() {
			return fmt.Errorf("%w: line %d amount must be positive", shared.ErrInvalidLine, idx+1)
		}
	}
	return nil
}

// BuildLines numbers inputs 1..n in input order and rounds amounts to cents.
func BuildLines(entryID int64, inputs []LineInput) []JournalLine {
	out := make([]JournalLine, 0, len(inputs))
	for idx, in := range inputs {
		out = append(out, JournalLine{
			EntryID:     entryID,
			LineNo:      idx + 1,
			AccountID:   in.AccountID,
			Direction:   in.Direction,
			Amount:      in.Amount.Round(2),
			Description: in.Description,
		})
	}
	return out
}

// ValidatePosting enforces the balance rules a booked entry must satisfy.
func ValidatePosting(lines []JournalLine) error {
	if len(lines) == 0 {
		return shared.ErrNoLines
	}
	debit, credit := Totals(lines)
	if debit.IsZero() && credit.IsZero() {
		return shared.ErrZeroTotal
	}
	if debit.IsZero() || credit.IsZero() {
		return shared.ErrOneSided
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64     `json:"-"`
	Date    time.Time `json:"date"`
	ActorID int64     `json:"-"`
	Memo    string    `json:"memo" validate:"max=500"`
}

// ListFilter narrows journal listings.
type ListFilter struct {
	Status     Status
	SourceType string
	From, To   *time.Time
	Limit      int
	Offset     int
}

// flipLines mirrors lines 1:1 with direction flipped.
func flipLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Direction:   line.Direction.Flip(),
			Amount:      line.Amount,
			Description: line.Description,
		})
	}
	return out
}
