package shared

// Expedition & reconciliation permissions declared for RBAC.
const (
	// Sale read permissions (sales module is the system of record).
	PermSaleView    = "expedition.sale.view"
	PermSaleViewAll = "expedition.sale.view_all"

	// Confirmation ledger permissions.
	PermLedgerView    = "expedition.ledger.view"
	PermLedgerConfirm = "expedition.ledger.confirm"

	// Closing batch permissions.
	PermClosingView    = "expedition.closing.view"
	PermClosingCreate  = "expedition.closing.create"
	PermClosingConfirm = "expedition.closing.confirm"

	// Reporting permissions.
	PermReportsView = "reports.view"
)

// ExpeditionScopes lists all permissions related to the expedition module.
func ExpeditionScopes() []string {
	return []string{
		PermSaleView,
		PermSaleViewAll,
		PermLedgerView,
		PermLedgerConfirm,
		PermClosingView,
		PermClosingCreate,
		PermClosingConfirm,
		PermReportsView,
	}
}
