package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalSide is the side on which an account's balance grows.
type NormalSide string

const (
	SideDebit  NormalSide = "DEBIT"
	SideCredit NormalSide = "CREDIT"
)

// EntityKind names the master-data table a sub-account links to.
type EntityKind string

const (
	EntityCustomer EntityKind = "CUSTOMER"
	EntitySupplier EntityKind = "SUPPLIER"
	EntityProduct  EntityKind = "PRODUCT"
)

// LinkKind is the purpose of a counterparty or product sub-account.
type LinkKind string

const (
	LinkReceivable     LinkKind = "RECEIVABLE"
	LinkNoteReceivable LinkKind = "NOTE_RECEIVABLE"
	LinkSalesReturn    LinkKind = "SALES_RETURN"
	LinkAdvanceReceipt LinkKind = "ADVANCE_RECEIPT"
	LinkPayable        LinkKind = "PAYABLE"
	LinkNotePayable    LinkKind = "NOTE_PAYABLE"
	LinkPurchaseReturn LinkKind = "PURCHASE_RETURN"
	LinkAdvancePayment LinkKind = "ADVANCE_PAYMENT"
	LinkInventory      LinkKind = "INVENTORY"
)

// LinkKinds lists every supported kind.
var LinkKinds = []LinkKind{
	LinkReceivable, LinkNoteReceivable, LinkSalesReturn, LinkAdvanceReceipt,
	LinkPayable, LinkNotePayable, LinkPurchaseReturn, LinkAdvancePayment,
	LinkInventory,
}

// Entity returns which master data the kind links to.
func (k LinkKind) Entity() EntityKind {
	switch k {
	case LinkReceivable, LinkNoteReceivable, LinkSalesReturn, LinkAdvanceReceipt:
		return EntityCustomer
	case LinkPayable, LinkNotePayable, LinkPurchaseReturn, LinkAdvancePayment:
		return EntitySupplier
	case LinkInventory:
		return EntityProduct
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k LinkKind) Valid() bool {
	return k.Entity() != ""
}

// AccountItem models a chart of accounts node.
type AccountItem struct {
	ID              int64       `json:"id"`
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	Level           int         `json:"level"`
	ParentID        *int64      `json:"parent_id,omitempty"`
	Type            AccountType `json:"type"`
	Side            NormalSide  `json:"side"`
	IsDetail        bool        `json:"is_detail"`
	IsAutoGenerated bool        `json:"is_auto_generated"`
	LinkKind        LinkKind    `json:"link_kind,omitempty"`
	LinkedEntityID  *int64      `json:"linked_entity_id,omitempty"`
	IsActive        bool        `json:"is_active"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Counterparty is the master-data record a sub-account is named after.
type Counterparty struct {
	ID   int64
	Kind EntityKind
	Code string
	Name string
}
