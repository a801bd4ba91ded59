package tenant

import (
	"context"
	"database/sql"
	"fmt"
)

// Context resolves which organization an authenticated principal is acting
// within. All tenant-scoped queries derive their Scope from it.
type Context struct {
	db *sql.DB
}

// NewContext creates a tenant context resolver
func NewContext(db *sql.DB) *Context {
	return &Context{db: db}
}

// CurrentOrgUser resolves the principal's current active membership. The
// second return value is false when the principal has no usable membership:
// callers must treat that as "no tenant-scoped data is visible", never as
// "all data visible".
func (c *Context) CurrentOrgUser(ctx context.Context, principalID int64) (*OrgUser, bool, error) {
	query := `
		SELECT ou.id, ou.org_id, ou.principal_id, ou.is_foh_user, ou.is_staff,
		       ou.is_active, ou.status, ou.created_at, ou.updated_at
		FROM org_users ou
		JOIN principals p ON p.current_org_user_id = ou.id
		JOIN organizations o ON o.id = ou.org_id
		WHERE p.id = $1
		  AND ou.principal_id = p.id
		  AND ou.status = 'active' AND ou.is_active
		  AND o.status = 'active' AND o.is_active
	`
	ou := &OrgUser{}
	err := c.db.QueryRowContext(ctx, query, principalID).Scan(
		&ou.ID, &ou.OrgID, &ou.PrincipalID, &ou.IsFOHUser, &ou.IsStaff,
		&ou.IsActive, &ou.Status, &ou.CreatedAt, &ou.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve current org user: %w", err)
	}

	return ou, true, nil
}

// CurrentOrgID resolves just the current organization id. ok=false means no
// tenant context.
func (c *Context) CurrentOrgID(ctx context.Context, principalID int64) (int64, bool, error) {
	ou, ok, err := c.CurrentOrgUser(ctx, principalID)
	if err != nil || !ok {
		return 0, false, err
	}
	return ou.OrgID, true, nil
}

// ScopeFor resolves the query scope for a principal. When the principal has
// no current membership the returned scope is unresolved and matches no
// rows.
func (c *Context) ScopeFor(ctx context.Context, principalID int64) (Scope, error) {
	ou, ok, err := c.CurrentOrgUser(ctx, principalID)
	if err != nil {
		return Empty(), err
	}
	if !ok {
		return Empty(), nil
	}
	return ForOrgUser(ou.ID), nil
}
