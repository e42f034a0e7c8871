package integration

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
)

type lineKey struct {
	account   int64
	direction journals.Direction
}

// lineSet accumulates journal lines, merging same account and direction and
// dropping zero amounts.
type lineSet struct {
	order []lineKey
	lines map[lineKey]journals.LineInput
}

func newLineSet() *lineSet {
	return &lineSet{lines: map[lineKey]journals.LineInput{}}
}

func (s *lineSet) add(account int64, direction journals.Direction, amount decimal.Decimal, description string) {
	if amount.IsZero() {
		return
	}
	key := lineKey{account: account, direction: direction}
	line, ok := s.lines[key]
	if !ok {
		s.order = append(s.order, key)
		line = journals.LineInput{AccountID: account, Direction: direction, Amount: decimal.Zero, Description: description}
	}
	line.Amount = line.Amount.Add(amount)
	s.lines[key] = line
}

func (s *lineSet) debit(account int64, amount decimal.Decimal, description string) {
	s.add(account, journals.Debit, amount, description)
}

func (s *lineSet) credit(account int64, amount decimal.Decimal, description string) {
	s.add(account, journals.Credit, amount, description)
}

// pair adds a debit and credit of the same amount, or neither.
func (s *lineSet) pair(debitAccount, creditAccount int64, amount decimal.Decimal, description string) {
	if !amount.IsPositive() {
		return
	}
	s.debit(debitAccount, amount, description)
	s.credit(creditAccount, amount, description)
}

func (s *lineSet) inputs() []journals.LineInput {
	out := make([]journals.LineInput, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.lines[key])
	}
	return out
}
