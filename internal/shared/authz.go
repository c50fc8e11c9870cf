package shared

// Capabilities checked by rbac middleware and services.
const (
	CapEntriesView = "entries.view"
	CapEntriesEdit = "entries.edit"

	CapClosingsView    = "closings.view"
	CapClosingsOperate = "closings.operate"
	CapClosingsApprove = "closings.approve"
	CapClosingsProcess = "closings.process"
	CapClosingsReopen  = "closings.reopen"

	CapApportionmentEdit = "apportionment.edit"
	CapMasterdataEdit    = "masterdata.edit"
	CapCostCentersEdit   = "costcenters.edit"

	CapRecurringEdit = "recurring.edit"
	CapLoansEdit     = "loans.edit"
	CapUshersEdit    = "ushers.edit"

	CapReportsView     = "reports.view"
	CapConsistencyRun  = "consistency.run"
	CapConsistencyView = "consistency.view"

	CapUsersManage = "users.manage"
	CapAuditView   = "audit.view"
)

// ReadOnlyScopes lists capabilities that never mutate financial data.
func ReadOnlyScopes() []string {
	return []string{CapEntriesView, CapClosingsView, CapReportsView}
}
