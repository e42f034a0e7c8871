package mappings

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	Module    string
	Key       string
	AccountID int64
}

// Keys used by document journalization.
const (
	ModuleTreasury    = "TREASURY"
	ModuleProcurement = "PROCUREMENT"
	ModuleSales       = "SALES"

	KeyCash      = "treasury.cash"
	KeyInputTax  = "procurement.input_tax"
	KeyRevenue   = "sales.revenue"
	KeyOutputTax = "sales.output_tax"
	KeyCOGS      = "sales.cogs"
)
