package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents an outbound movement.
	TransactionTypeOut TransactionType = "OUT"
	// TransactionTypeAdjust indicates manual adjustments.
	TransactionTypeAdjust TransactionType = "ADJUST"
)

// Transaction models the header of an inventory transaction posted by a
// commercial document. RefModule/RefID name that document.
type Transaction struct {
	ID        int64
	Code      string
	Type      TransactionType
	RefModule string
	RefID     string
	PostedAt  time.Time
	Lines     []TransactionLine
}

// TransactionLine models each product movement line.
type TransactionLine struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// Cost is the absolute value of the movement.
func (l TransactionLine) Cost() decimal.Decimal {
	return l.Qty.Abs().Mul(l.UnitCost)
}

// MovementCost sums line costs of the given transactions, rounded to cents.
func MovementCost(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		for _, line := range tx.Lines {
			total = total.Add(line.Cost())
		}
	}
	return total.Round(2)
}
