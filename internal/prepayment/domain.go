package prepayment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Kind distinguishes customer advances from supplier advances.
type Kind string

const (
	KindReceipt Kind = "RECEIPT"
	KindPayment Kind = "PAYMENT"
)

// Prepayment is a standing advance balance.
type Prepayment struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Kind           Kind            `json:"kind"`
	CounterpartyID int64           `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	UsedAmount     decimal.Decimal `json:"used_amount"`
	Usages         []Usage         `json:"usages,omitempty"`
}

// Remaining is the unused balance.
func (p Prepayment) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.UsedAmount)
}

// Usage consumes part of a prepayment for one setoff.
type Usage struct {
	ID           int64           `json:"id"`
	PrepaymentID int64           `json:"prepayment_id"`
	SetoffID     int64           `json:"setoff_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

var (
	// ErrInvalidAmount indicates a usage amount that is not positive.
	ErrInvalidAmount = shared.NewValidation("prepayment: usage amount must be positive")
	// ErrExceedsBalance indicates a usage above the remaining balance.
	ErrExceedsBalance = shared.NewValidation("prepayment: usage exceeds remaining balance")
	// ErrNotFound indicates a missing prepayment.
	ErrNotFound = shared.NewNotFound("prepayment: not found")
	// ErrUsageNotFound indicates a missing usage row.
	ErrUsageNotFound = shared.NewNotFound("prepayment: usage not found")
	// ErrUsedOutOfRange indicates stored usages above the prepayment amount.
	ErrUsedOutOfRange = shared.NewIntegrity("prepayment: used amount out of range")
)

func roundCents(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
