// Package tenancy enforces multi-tenant row isolation for every backend call.
//
// Isolation is expressed as two independent predicates, tenant match and org
// match, that both must pass unless the caller holds an admin-tier role.
// The scope is an explicit value object threaded through call signatures;
// there is no ambient session state.
package tenancy

import (
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/types"
)

// Role is the caller's privilege tier within its tenant.
type Role string

const (
	// RoleAgent is an autonomous agent acting on behalf of a user.
	RoleAgent Role = "agent"
	// RoleUser is a human caller.
	RoleUser Role = "user"
	// RoleOrgAdmin bypasses the private-visibility restriction within its
	// own org, but never the tenant or org predicates themselves.
	RoleOrgAdmin Role = "org_admin"
	// RoleSuperAdmin bypasses both isolation predicates.
	RoleSuperAdmin Role = "superadmin"
)

// Scope is the tenancy context under which a request executes. A zero Scope
// is the anonymous caller, which may only read rows with a shared visibility
// and null tenancy columns.
type Scope struct {
	TenantID string `json:"tenant_id,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// Anonymous reports whether the scope carries no tenancy context at all.
func (s Scope) Anonymous() bool {
	return s.TenantID == "" && s.OrgID == "" && s.UserID == ""
}

// IsAdmin reports whether the caller's role is the top admin tier that
// bypasses both isolation predicates.
func (s Scope) IsAdmin() bool {
	return s.Role == RoleSuperAdmin
}

// Validate rejects scopes that cannot be used for writes into tenant-scoped
// tables: a write requires at least a tenant and a user identity.
func (s Scope) Validate() error {
	if s.TenantID == "" {
		return types.NewError(types.ErrScopeDenied, "tenant_id is required")
	}
	if s.UserID == "" {
		return types.NewError(types.ErrScopeDenied, "user_id is required")
	}
	return nil
}

// Allows evaluates the isolation predicates against one row's tenancy
// columns and visibility. Rows with null tenant/org columns are shared
// infrastructure rows and pass the corresponding predicate.
func (s Scope) Allows(rowTenant, rowOrg string, visibility types.VisibilityScope, ownerUserID string) bool {
	if s.IsAdmin() {
		return true
	}
	tenantOK := rowTenant == "" || rowTenant == s.TenantID
	orgOK := rowOrg == "" || rowOrg == s.OrgID
	if !tenantOK || !orgOK {
		return false
	}
	if visibility == types.VisibilityPrivate {
		// Private rows are owner-only; org admins may read them within
		// their org.
		return ownerUserID == s.UserID || s.Role == RoleOrgAdmin
	}
	if s.Anonymous() {
		return visibility == types.VisibilityShared && rowTenant == "" && rowOrg == ""
	}
	return true
}

// Apply injects the two isolation predicates into a gorm query. Every read
// against a tenant-scoped table goes through this before any other clause is
// added. Superadmin scopes receive the query unchanged.
func Apply(db *gorm.DB, s Scope) *gorm.DB {
	if s.IsAdmin() {
		return db
	}
	if s.Anonymous() {
		return db.
			Where("tenant_id IS NULL OR tenant_id = ''").
			Where("org_id IS NULL OR org_id = ''")
	}
	return db.
		Where("tenant_id IS NULL OR tenant_id = '' OR tenant_id = ?", s.TenantID).
		Where("org_id IS NULL OR org_id = '' OR org_id = ?", s.OrgID)
}

// ApplyVisibility extends Apply with the visibility-class restriction for
// tables that carry a scope column (packets): private rows stay owner-only,
// and anonymous callers see shared rows exclusively.
func ApplyVisibility(db *gorm.DB, s Scope) *gorm.DB {
	db = Apply(db, s)
	if s.IsAdmin() {
		return db
	}
	if s.Anonymous() {
		return db.Where("scope = ?", string(types.VisibilityShared))
	}
	if s.Role == RoleOrgAdmin {
		return db
	}
	return db.Where("scope <> ? OR user_id = ?", string(types.VisibilityPrivate), s.UserID)
}

// Stamp copies the scope's tenancy identifiers into the given columns,
// returning the values a write should persist.
func (s Scope) Stamp() (tenantID, orgID, userID string) {
	return s.TenantID, s.OrgID, s.UserID
}
