package admin

import "github.com/google/uuid"

// Permission represents an admin permission
type Permission string

const (
	PermViewJobs Permission = "jobs.view"
	PermEditJobs Permission = "jobs.edit"

	PermViewCredits      Permission = "credits.view"
	PermGrantCredits     Permission = "credits.grant"
	PermRefundCredits    Permission = "credits.refund"
	PermReconcileCredits Permission = "credits.reconcile"

	PermViewAuditLogs Permission = "audit.view"
	PermManageAdmins  Permission = "admins.manage"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermViewJobs, PermEditJobs,
		PermViewCredits, PermGrantCredits, PermRefundCredits, PermReconcileCredits,
		PermViewAuditLogs, PermManageAdmins,
	},
	RoleAdmin: {
		PermViewJobs, PermEditJobs,
		PermViewCredits, PermGrantCredits, PermRefundCredits, PermReconcileCredits,
		PermViewAuditLogs,
	},
	RoleSupport: {
		PermViewJobs,
		PermViewCredits,
	},
}

// RoleHierarchy defines role levels (higher = more permissions)
var RoleHierarchy = map[Role]int{
	RoleSuperAdmin: 100,
	RoleAdmin:      80,
	RoleSupport:    40,
}

// CanManage checks if role1 can manage role2
func CanManage(role1, role2 Role) bool {
	return RoleHierarchy[role1] > RoleHierarchy[role2]
}

// Capability is what an authenticated admin may do. It is resolved once per
// request; the zero value denies everything.
type Capability struct {
	AdminID uuid.UUID
	Email   string
	Role    Role
	perms   map[Permission]struct{}
}

// NewCapability resolves the permissions of an active admin.
// Inactive admins get an empty capability.
func NewCapability(a *AdminUser) Capability {
	c := Capability{AdminID: a.ID, Email: a.Email, Role: a.Role}
	if !a.IsActive {
		return c
	}
	c.perms = make(map[Permission]struct{})
	for _, p := range RolePermissions[a.Role] {
		c.perms[p] = struct{}{}
	}
	return c
}

// Can reports whether the capability includes perm.
func (c Capability) Can(perm Permission) bool {
	_, ok := c.perms[perm]
	return ok
}

// Permissions lists the granted permissions in RolePermissions order.
func (c Capability) Permissions() []string {
	var out []string
	for _, p := range RolePermissions[c.Role] {
		if c.Can(p) {
			out = append(out, string(p))
		}
	}
	return out
}

func (c Capability) require(perm Permission) error {
	if !c.Can(perm) {
		return ErrPermissionDenied
	}
	return nil
}
