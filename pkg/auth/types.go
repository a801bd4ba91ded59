package auth

import (
	"time"

	"github.com/fitstack/fitstack/pkg/tenant"
)

// Principal is an authentication identity. Tenant-scoped capability lives on
// its OrgUser memberships, never on the principal itself.
type Principal struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name,omitempty"`
	PasswordHash     string     `json:"-"` // Never expose hash
	IsActive         bool       `json:"is_active"`
	CurrentOrgUserID *int64     `json:"current_org_user_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

// Context holds the authenticated request identity. It is built once per
// request by the session middleware and passed explicitly; nothing in the
// codebase reads authentication state from globals.
type Context struct {
	Principal *Principal
	// OrgUser is the current active membership, nil when the principal has
	// no usable tenant context. Nil means no tenant-scoped data is visible.
	OrgUser *tenant.OrgUser
}

// Scope returns the tenant query scope for this identity. Without a current
// membership the scope is unresolved and matches no rows.
func (c *Context) Scope() tenant.Scope {
	if c == nil || c.OrgUser == nil {
		return tenant.Empty()
	}
	return tenant.ForOrgUser(c.OrgUser.ID)
}

// HasFOHAccess reports whether the current membership grants front-of-house
// access.
func (c *Context) HasFOHAccess() bool {
	return c != nil && c.OrgUser != nil && c.OrgUser.IsFOHUser
}

// IsStaff reports whether the current membership carries staff capability
func (c *Context) IsStaff() bool {
	return c != nil && c.OrgUser != nil && c.OrgUser.IsStaff
}
