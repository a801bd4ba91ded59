package tenant

import "fmt"

// Scope restricts every query over a tenant-owned table to one organization.
// The organization is resolved through the org_users row itself via a
// subquery, never from a denormalized org pointer on the principal, so a
// stale or forged pointer cannot widen the scope.
//
// The zero value is unresolved and matches no rows. Absence of tenant
// context is never a wildcard.
type Scope struct {
	orgUserID int64
	resolved  bool
}

// ForOrgUser returns a scope bound to the given membership row
func ForOrgUser(orgUserID int64) Scope {
	return Scope{orgUserID: orgUserID, resolved: true}
}

// Empty returns the unresolved scope that matches no rows
func Empty() Scope {
	return Scope{}
}

// Resolved reports whether the scope is bound to a membership
func (s Scope) Resolved() bool {
	return s.resolved
}

// OrgUserID returns the bound membership id, or 0 when unresolved
func (s Scope) OrgUserID() int64 {
	return s.orgUserID
}

// Predicate returns a SQL fragment restricting rows of the given table to
// the scope's organization, plus its bind arguments. argPos is the index of
// the first placeholder the fragment may use. An unresolved scope yields
// FALSE: queries match zero rows rather than going unfiltered.
func (s Scope) Predicate(table string, argPos int) (string, []interface{}) {
	if !s.resolved {
		return "FALSE", nil
	}
	frag := fmt.Sprintf(
		"%s.org_id IN (SELECT ou.org_id FROM org_users ou WHERE ou.id = $%d AND ou.status = 'active' AND ou.is_active)",
		table, argPos,
	)
	return frag, []interface{}{s.orgUserID}
}

// OrgIDExpr returns a scalar SQL expression for the scope's org id, for use
// in INSERT column lists. An unresolved scope yields NULL, which violates
// the org_id NOT NULL constraint and so fails the write closed.
func (s Scope) OrgIDExpr(argPos int) (string, []interface{}) {
	if !s.resolved {
		return "NULL::bigint", nil
	}
	frag := fmt.Sprintf(
		"(SELECT ou.org_id FROM org_users ou WHERE ou.id = $%d AND ou.status = 'active' AND ou.is_active)",
		argPos,
	)
	return frag, []interface{}{s.orgUserID}
}
