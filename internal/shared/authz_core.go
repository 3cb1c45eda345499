package shared

// System role names. Stored upper case; the granted authority code is
// "ROLE_" + name.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleTechAdmin  = "TECH_ADMIN"
	RoleFinAdmin   = "FIN_ADMIN"
	RoleUser       = "USER"
)

// Role groups used by route guards.
var (
	UserAdminRoles   = []string{RoleSuperAdmin, RoleTechAdmin}
	FinanceRoles     = []string{RoleSuperAdmin, RoleFinAdmin}
	ReportRoles      = []string{RoleSuperAdmin, RoleTechAdmin, RoleFinAdmin}
	PaymentViewRoles = []string{RoleSuperAdmin, RoleTechAdmin, RoleFinAdmin}
	MemberRoles      = []string{RoleSuperAdmin, RoleTechAdmin, RoleFinAdmin, RoleUser}
)

// SystemRoles lists the roles seeded at bootstrap.
func SystemRoles() []string {
	return []string{RoleSuperAdmin, RoleTechAdmin, RoleFinAdmin, RoleUser}
}
