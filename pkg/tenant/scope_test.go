package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopePredicate(t *testing.T) {
	t.Run("unresolved scope matches nothing", func(t *testing.T) {
		pred, args := Empty().Predicate("members", 1)
		assert.Equal(t, "FALSE", pred)
		assert.Empty(t, args)
	})

	t.Run("zero value is unresolved", func(t *testing.T) {
		var s Scope
		assert.False(t, s.Resolved())
		pred, _ := s.Predicate("members", 1)
		assert.Equal(t, "FALSE", pred)
	})

	t.Run("resolved scope filters through the membership row", func(t *testing.T) {
		pred, args := ForOrgUser(42).Predicate("members", 3)
		assert.Contains(t, pred, "members.org_id IN")
		assert.Contains(t, pred, "FROM org_users ou WHERE ou.id = $3")
		assert.Contains(t, pred, "ou.status = 'active'")
		assert.Contains(t, pred, "ou.is_active")
		require.Len(t, args, 1)
		assert.Equal(t, int64(42), args[0])
	})
}

func TestScopeOrgIDExpr(t *testing.T) {
	t.Run("unresolved scope yields NULL so inserts fail closed", func(t *testing.T) {
		expr, args := Empty().OrgIDExpr(1)
		assert.Equal(t, "NULL::bigint", expr)
		assert.Empty(t, args)
	})

	t.Run("resolved scope derives org from the membership row", func(t *testing.T) {
		expr, args := ForOrgUser(7).OrgIDExpr(2)
		assert.Contains(t, expr, "SELECT ou.org_id FROM org_users ou WHERE ou.id = $2")
		require.Len(t, args, 1)
		assert.Equal(t, int64(7), args[0])
	})
}
