package rbac

import (
	"fmt"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Role is one of the four fixed treasury roles.
type Role string

const (
	RoleAdministrator    Role = "ADMINISTRATOR"
	RoleTreasurerGeneral Role = "TREASURER_GENERAL"
	RoleTreasurerLocal   Role = "TREASURER_LOCAL"
	RolePastor           Role = "PASTOR"
)

// Roles lists every role in descending privilege order.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleTreasurerGeneral, RoleTreasurerLocal, RolePastor}
}

// ParseRole normalises and validates a stored role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if role.rank() < 0 {
		return "", fmt.Errorf("rbac: unknown role %q", raw)
	}
	return role, nil
}

// rank orders the financial chain Administrator > TreasurerGeneral > TreasurerLocal.
// Pastor sits outside the chain.
func (r Role) rank() int {
	switch r {
	case RoleAdministrator:
		return 3
	case RoleTreasurerGeneral:
		return 2
	case RoleTreasurerLocal:
		return 1
	case RolePastor:
		return 0
	}
	return -1
}

// Includes reports whether holding r implies holding other.
func (r Role) Includes(other Role) bool {
	if r == other {
		return r.rank() >= 0
	}
	if r == RolePastor || other == RolePastor {
		return false
	}
	return r.rank() >= other.rank() && other.rank() > 0
}

// Label returns the display name.
func (r Role) Label() string {
	switch r {
	case RoleAdministrator:
		return "Administrador"
	case RoleTreasurerGeneral:
		return "Tesoureiro Geral"
	case RoleTreasurerLocal:
		return "Tesoureiro Local"
	case RolePastor:
		return "Pastor"
	}
	return string(r)
}

var (
	pastorCaps = shared.ReadOnlyScopes()
	localCaps  = append(append([]string{}, pastorCaps...),
		shared.CapEntriesEdit,
		shared.CapClosingsOperate,
		shared.CapClosingsApprove,
		shared.CapRecurringEdit,
		shared.CapLoansEdit,
		shared.CapUshersEdit,
	)
	generalCaps = append(append([]string{}, localCaps...),
		shared.CapClosingsProcess,
		shared.CapApportionmentEdit,
		shared.CapMasterdataEdit,
		shared.CapCostCentersEdit,
		shared.CapConsistencyView,
		shared.CapConsistencyRun,
	)
	adminCaps = append(append([]string{}, generalCaps...),
		shared.CapClosingsReopen,
		shared.CapUsersManage,
		shared.CapAuditView,
	)
)

// Capabilities returns the capability set granted to r.
func (r Role) Capabilities() []string {
	switch r {
	case RoleAdministrator:
		return adminCaps
	case RoleTreasurerGeneral:
		return generalCaps
	case RoleTreasurerLocal:
		return localCaps
	case RolePastor:
		return pastorCaps
	}
	return nil
}

// Can reports whether r grants capability.
func (r Role) Can(capability string) bool {
	for _, c := range r.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// Access is the authorisation profile of one user.
type Access struct {
	UserID       int64
	Role         Role
	CostCenterID *int64
	Active       bool
}

// HasRole applies the role hierarchy; inactive users hold no role.
func (a Access) HasRole(role Role) bool {
	return a.Active && a.Role.Includes(role)
}

// Scoped reports whether the user only sees one cost center. Treasurer-locals
// are always scoped; a pastor is scoped when bound to a congregation.
func (a Access) Scoped() bool {
	switch a.Role {
	case RoleTreasurerLocal:
		return true
	case RolePastor:
		return a.CostCenterID != nil
	}
	return false
}

// VisibleCostCenters returns nil when every cost center is visible.
func (a Access) VisibleCostCenters() []int64 {
	if !a.Active {
		return []int64{}
	}
	if !a.Scoped() {
		return nil
	}
	if a.CostCenterID == nil {
		return []int64{}
	}
	return []int64{*a.CostCenterID}
}

// CanAccessCostCenter restricts scoped roles to their own cost center.
func (a Access) CanAccessCostCenter(costCenterID int64) bool {
	if !a.Active {
		return false
	}
	if !a.Scoped() {
		return true
	}
	return a.CostCenterID != nil && *a.CostCenterID == costCenterID
}

// Can reports whether the user holds capability.
func (a Access) Can(capability string) bool {
	return a.Active && a.Role.Can(capability)
}
