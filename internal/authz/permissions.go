package authz

// Builtin permission keys.
const (
	PermClientsView          = "clients.view"
	PermClientsManage        = "clients.manage"
	PermClientsDelete        = "clients.delete"
	PermMedicationsView      = "medications.view"
	PermMedicationsAdmin     = "medications.admin"
	PermSchedulesView        = "schedules.view"
	PermSchedulesManage      = "schedules.manage"
	PermRolesManage          = "roles.manage"
	PermEventsAppend         = "events.append"
	PermEventsAdmin          = "events.admin"
	PermAccountabilityManage = "accountability.manage"
)

// BuiltinPermissions is the seed catalog ensured at startup.
var BuiltinPermissions = []Permission{
	{Key: PermClientsView, Description: "View client records", ScopeType: ScopeTypeOrg},
	{Key: PermClientsManage, Description: "Create and update client records", ScopeType: ScopeTypeOrg},
	{Key: PermClientsDelete, Description: "Archive client records", ScopeType: ScopeTypeOrg},
	{Key: PermMedicationsView, Description: "View medication records", ScopeType: ScopeTypeOrg},
	{Key: PermMedicationsAdmin, Description: "Administer medication records", ScopeType: ScopeTypeOrg},
	{Key: PermSchedulesView, Description: "View schedules", ScopeType: ScopeTypeOrg},
	{Key: PermSchedulesManage, Description: "Manage schedules", ScopeType: ScopeTypeOrg},
	{Key: PermRolesManage, Description: "Manage roles and assignments", ScopeType: ScopeTypeOrg},
	{Key: PermEventsAppend, Description: "Append domain events", ScopeType: ScopeTypeOrg},
	{Key: PermEventsAdmin, Description: "Inspect and retry failed events", ScopeType: ScopeTypeGlobal},
	{Key: PermAccountabilityManage, Description: "Manage accountability assignments", ScopeType: ScopeTypeOrg},
}

// BuiltinImplications is the seed implication table. Entries are one level
// deep by design; widening happens through the implying grant's scope.
var BuiltinImplications = []Implication{
	{Implying: PermClientsManage, Implied: PermClientsView},
	{Implying: PermClientsDelete, Implied: PermClientsView},
	{Implying: PermMedicationsAdmin, Implied: PermMedicationsView},
	{Implying: PermSchedulesManage, Implied: PermSchedulesView},
	{Implying: PermEventsAdmin, Implied: PermEventsAppend},
}
