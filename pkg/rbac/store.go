package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fitstack/fitstack/pkg/tenant"
)

// Store provides database operations for roles, tasks and assignments.
// Every read that touches org-owned rows takes a tenant.Scope; an
// unresolved scope matches nothing.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole inserts a role under the scope's organization. The org id is
// derived from the scope, never taken from the caller.
func (s *Store) CreateRole(ctx context.Context, scope tenant.Scope, module Module, name string, isProtected bool) (*Role, error) {
	if !module.Valid() {
		return nil, &ConflictError{Message: fmt.Sprintf("unknown module %q", module)}
	}

	orgExpr, orgArgs := scope.OrgIDExpr(3)
	args := append([]interface{}{string(module), name}, orgArgs...)
	args = append(args, slugify(name), isProtected)

	query := fmt.Sprintf(`
		INSERT INTO rbac_roles (module, name, org_id, slug, is_protected)
		VALUES ($1, $2, %s, $%d, $%d)
		RETURNING id, org_id, module, name, slug, is_protected, is_active, created_at, updated_at
	`, orgExpr, 3+len(orgArgs), 4+len(orgArgs))

	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// GetRole retrieves a role by id within the scope
func (s *Store) GetRole(ctx context.Context, scope tenant.Scope, id int64) (*Role, error) {
	pred, predArgs := scope.Predicate("rbac_roles", 2)
	query := fmt.Sprintf(`
		SELECT id, org_id, module, name, slug, is_protected, is_active, created_at, updated_at
		FROM rbac_roles
		WHERE id = $1 AND %s
	`, pred)

	args := append([]interface{}{id}, predArgs...)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleBySlug retrieves a role by module and slug within the scope
func (s *Store) GetRoleBySlug(ctx context.Context, scope tenant.Scope, module Module, slug string) (*Role, error) {
	pred, predArgs := scope.Predicate("rbac_roles", 3)
	query := fmt.Sprintf(`
		SELECT id, org_id, module, name, slug, is_protected, is_active, created_at, updated_at
		FROM rbac_roles
		WHERE module = $1 AND slug = $2 AND %s
	`, pred)

	args := append([]interface{}{string(module), slug}, predArgs...)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %s/%s: %w", module, slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns the scope's active roles for a module, protected roles
// first, then by name.
func (s *Store) ListRoles(ctx context.Context, scope tenant.Scope, module Module, includeInactive bool) ([]*Role, error) {
	pred, predArgs := scope.Predicate("rbac_roles", 2)
	query := fmt.Sprintf(`
		SELECT id, org_id, module, name, slug, is_protected, is_active, created_at, updated_at
		FROM rbac_roles
		WHERE module = $1 AND %s
	`, pred)
	if !includeInactive {
		query += " AND is_active"
	}
	query += " ORDER BY is_protected DESC, name"

	args := append([]interface{}{string(module)}, predArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListTaskGroups returns a module's active tasks grouped by category, in
// category sort order. Tasks without a category come last under a nil group.
func (s *Store) ListTaskGroups(ctx context.Context, module Module) ([]*TaskGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.module, t.category_id, t.code, t.description, t.is_active,
		       c.id, c.name, c.sort_order
		FROM rbac_tasks t
		LEFT JOIN rbac_categories c ON c.id = t.category_id
		WHERE t.module = $1 AND t.is_active
		ORDER BY c.sort_order NULLS LAST, c.name, t.code
	`, string(module))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var groups []*TaskGroup
	byCategory := make(map[int64]*TaskGroup)
	var uncategorized *TaskGroup

	for rows.Next() {
		var task Task
		var catID sql.NullInt64
		var catName sql.NullString
		var catSort sql.NullInt64
		if err := rows.Scan(
			&task.ID, &task.Module, &task.CategoryID, &task.Code, &task.Description, &task.IsActive,
			&catID, &catName, &catSort,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		if !catID.Valid {
			if uncategorized == nil {
				uncategorized = &TaskGroup{}
			}
			uncategorized.Tasks = append(uncategorized.Tasks, task)
			continue
		}

		group, ok := byCategory[catID.Int64]
		if !ok {
			group = &TaskGroup{Category: &Category{
				ID:        catID.Int64,
				Module:    module,
				Name:      catName.String,
				SortOrder: int(catSort.Int64),
			}}
			byCategory[catID.Int64] = group
			groups = append(groups, group)
		}
		group.Tasks = append(group.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if uncategorized != nil {
		groups = append(groups, uncategorized)
	}
	return groups, nil
}

// ActiveTaskCodes returns the codes of tasks currently enabled on a role
func (s *Store) ActiveTaskCodes(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.code
		FROM rbac_role_tasks rt
		JOIN rbac_tasks t ON t.id = rt.task_id
		WHERE rt.role_id = $1 AND rt.is_active AND t.is_active
		ORDER BY t.code
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role tasks: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan task code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// RoleHolders returns the memberships currently holding a role
func (s *Store) RoleHolders(ctx context.Context, scope tenant.Scope, roleID int64) ([]*RoleHolder, error) {
	pred, predArgs := scope.Predicate("ru", 2)
	query := fmt.Sprintf(`
		SELECT ru.org_user_id, p.id, p.email, p.full_name, ru.granted_at
		FROM rbac_role_users ru
		JOIN org_users ou ON ou.id = ru.org_user_id
		JOIN principals p ON p.id = ou.principal_id
		WHERE ru.role_id = $1 AND ru.is_active AND %s
		ORDER BY ru.granted_at
	`, pred)

	args := append([]interface{}{roleID}, predArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	var holders []*RoleHolder
	for rows.Next() {
		var h RoleHolder
		var fullName sql.NullString
		if err := rows.Scan(&h.OrgUserID, &h.PrincipalID, &h.Email, &fullName, &h.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		h.FullName = fullName.String
		holders = append(holders, &h)
	}
	return holders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	err := row.Scan(
		&role.ID, &role.OrgID, &role.Module, &role.Name, &role.Slug,
		&role.IsProtected, &role.IsActive, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
