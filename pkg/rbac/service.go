package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// Service implements role and permission operations. Decisions are computed
// from the database on every call; nothing is cached between requests, so a
// revocation takes effect on the next check.
type Service struct {
	db      *sql.DB
	store   *Store
	audit   audit.Logger
	metrics *observability.Metrics
}

// NewService creates a new RBAC service. auditLog and metrics may be nil.
func NewService(db *sql.DB, auditLog audit.Logger, metrics *observability.Metrics) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Service{
		db:      db,
		store:   NewStore(db),
		audit:   auditLog,
		metrics: metrics,
	}
}

// Store exposes the underlying read store
func (s *Service) Store() *Store {
	return s.store
}

// ActiveRole returns the membership's active role in a module, or nil if it
// holds none. The scope restricts the lookup to its organization.
func (s *Service) ActiveRole(ctx context.Context, scope tenant.Scope, orgUserID int64, module Module) (*Role, error) {
	pred, predArgs := scope.Predicate("ru", 3)
	query := fmt.Sprintf(`
		SELECT r.id, r.org_id, r.module, r.name, r.slug, r.is_protected, r.is_active, r.created_at, r.updated_at
		FROM rbac_role_users ru
		JOIN rbac_roles r ON r.id = ru.role_id
		WHERE ru.org_user_id = $1 AND ru.module = $2 AND ru.is_active AND r.is_active AND %s
	`, pred)

	args := append([]interface{}{orgUserID, string(module)}, predArgs...)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active role: %w", err)
	}
	return role, nil
}

// HasRole reports whether the membership's active role in the module is the
// named one. Computed fresh per call, like every other decision here.
func (s *Service) HasRole(ctx context.Context, scope tenant.Scope, orgUserID int64, module Module, roleName string) (bool, error) {
	role, err := s.ActiveRole(ctx, scope, orgUserID, module)
	if err != nil {
		return false, err
	}
	return role != nil && role.Name == roleName, nil
}

// UserRoles returns the membership's active roles across all modules
func (s *Service) UserRoles(ctx context.Context, scope tenant.Scope, orgUserID int64) ([]*Role, error) {
	pred, predArgs := scope.Predicate("ru", 2)
	query := fmt.Sprintf(`
		SELECT r.id, r.org_id, r.module, r.name, r.slug, r.is_protected, r.is_active, r.created_at, r.updated_at
		FROM rbac_role_users ru
		JOIN rbac_roles r ON r.id = ru.role_id
		WHERE ru.org_user_id = $1 AND ru.is_active AND r.is_active AND %s
		ORDER BY r.module, r.name
	`, pred)

	args := append([]interface{}{orgUserID}, predArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
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

// HasTask reports whether the membership's active role in the module grants
// the task. A protected role grants every task in its module.
func (s *Service) HasTask(ctx context.Context, scope tenant.Scope, orgUserID int64, module Module, taskCode string) (bool, error) {
	pred, predArgs := scope.Predicate("ru", 4)
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1
			FROM rbac_role_users ru
			JOIN rbac_roles r ON r.id = ru.role_id
			LEFT JOIN rbac_role_tasks rt ON rt.role_id = r.id AND rt.is_active
			LEFT JOIN rbac_tasks t ON t.id = rt.task_id AND t.code = $3 AND t.is_active
			WHERE ru.org_user_id = $1 AND ru.module = $2
			  AND ru.is_active AND r.is_active
			  AND (r.is_protected OR t.id IS NOT NULL)
			  AND %s
		)
	`, pred)

	args := append([]interface{}{orgUserID, string(module), taskCode}, predArgs...)
	var allowed bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check task: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPermissionCheck(allowed)
	}
	return allowed, nil
}

// AssignRole grants a role to a membership. It fails with ConflictError when
// the target already holds a role in the module, is inactive, or cannot hold
// FOH roles. Re-granting a revoked assignment reactivates the existing row.
func (s *Service) AssignRole(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID, targetOrgUserID int64) (*RoleUser, error) {
	ru, err := s.assignRole(ctx, scope, actorOrgUserID, roleID, targetOrgUserID)
	s.recordMutation("assign", err)
	return ru, err
}

func (s *Service) assignRole(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID, targetOrgUserID int64) (*RoleUser, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := s.roleInTx(ctx, tx, scope, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, &ConflictError{Message: fmt.Sprintf("role %q is inactive", role.Name)}
	}

	// Lock the target membership so concurrent assignments to the same
	// user serialize on this row.
	pred, predArgs := scope.Predicate("org_users", 2)
	lockQuery := fmt.Sprintf(`
		SELECT org_id, is_foh_user, is_active, status
		FROM org_users
		WHERE id = $1 AND %s
		FOR UPDATE
	`, pred)

	var targetOrgID int64
	var isFOHUser, isActive bool
	var status string
	lockArgs := append([]interface{}{targetOrgUserID}, predArgs...)
	err = tx.QueryRowContext(ctx, lockQuery, lockArgs...).Scan(&targetOrgID, &isFOHUser, &isActive, &status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("org user %d: %w", targetOrgUserID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock org user: %w", err)
	}

	if targetOrgID != role.OrgID {
		return nil, fmt.Errorf("org user %d: %w", targetOrgUserID, ErrNotFound)
	}
	if !isActive || status != string(tenant.StatusActive) {
		return nil, &ConflictError{Message: "membership is not active"}
	}
	if role.Module == ModuleFOH && !isFOHUser {
		return nil, &ConflictError{Message: "membership has no front-of-house access"}
	}

	// The partial unique index backs this check under concurrency; the
	// pre-check exists to name the held role in the error.
	var heldRole string
	err = tx.QueryRowContext(ctx, `
		SELECT r.name
		FROM rbac_role_users ru
		JOIN rbac_roles r ON r.id = ru.role_id
		WHERE ru.org_user_id = $1 AND ru.module = $2 AND ru.is_active
	`, targetOrgUserID, string(role.Module)).Scan(&heldRole)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check held role: %w", err)
	}
	if err == nil {
		if heldRole == role.Name {
			return nil, &ConflictError{
				Message:  fmt.Sprintf("role %q is already assigned", role.Name),
				HeldRole: heldRole,
			}
		}
		return nil, &ConflictError{
			Message:  fmt.Sprintf("a role is already held in module %s: %s", role.Module, heldRole),
			HeldRole: heldRole,
		}
	}

	var ru RoleUser
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rbac_role_users (role_id, org_user_id, org_id, module, is_active, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW())
		ON CONFLICT (role_id, org_user_id) DO UPDATE SET
			is_active = TRUE,
			granted_by = EXCLUDED.granted_by,
			granted_at = NOW(),
			revoked_by = NULL,
			revoked_at = NULL
		RETURNING id, role_id, org_user_id, org_id, module, is_active, granted_by, granted_at, revoked_by, revoked_at
	`, roleID, targetOrgUserID, role.OrgID, string(role.Module), actorOrgUserID).Scan(
		&ru.ID, &ru.RoleID, &ru.OrgUserID, &ru.OrgID, &ru.Module,
		&ru.IsActive, &ru.GrantedBy, &ru.GrantedAt, &ru.RevokedBy, &ru.RevokedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == oneActiveRoleIndex {
			return nil, &ConflictError{Message: fmt.Sprintf("a role is already held in module %s", role.Module)}
		}
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	s.audit.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeRoleGrant,
		Status:         audit.EventStatusSuccess,
		OrgID:          &role.OrgID,
		ActorOrgUserID: &actorOrgUserID,
		TargetType:     "org_user",
		TargetID:       &targetOrgUserID,
		Message:        fmt.Sprintf("granted role %q in module %s", role.Name, role.Module),
		Metadata:       map[string]interface{}{"role_id": role.ID, "role": role.Name, "module": string(role.Module)},
	})

	return &ru, nil
}

// RemoveRole revokes a role from a membership. Removing yourself from a
// protected role is refused so an organization cannot lose its last point
// of control.
func (s *Service) RemoveRole(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID, targetOrgUserID int64) error {
	err := s.removeRole(ctx, scope, actorOrgUserID, roleID, targetOrgUserID)
	s.recordMutation("remove", err)
	return err
}

func (s *Service) removeRole(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID, targetOrgUserID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := s.roleInTx(ctx, tx, scope, roleID)
	if err != nil {
		return err
	}

	if role.IsProtected && actorOrgUserID == targetOrgUserID {
		return &ForbiddenError{Message: fmt.Sprintf("cannot remove yourself from protected role %q", role.Name)}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE rbac_role_users
		SET is_active = FALSE, revoked_by = $1, revoked_at = NOW()
		WHERE role_id = $2 AND org_user_id = $3 AND is_active
	`, actorOrgUserID, roleID, targetOrgUserID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revocation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("assignment of role %d to org user %d: %w", roleID, targetOrgUserID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revocation: %w", err)
	}

	s.audit.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeRoleRevoke,
		Status:         audit.EventStatusSuccess,
		OrgID:          &role.OrgID,
		ActorOrgUserID: &actorOrgUserID,
		TargetType:     "org_user",
		TargetID:       &targetOrgUserID,
		Message:        fmt.Sprintf("revoked role %q in module %s", role.Name, role.Module),
		Metadata:       map[string]interface{}{"role_id": role.ID, "role": role.Name, "module": string(role.Module)},
	})

	return nil
}

// ToggleTask enables or disables a task on a role. Protected roles refuse
// task edits; their grant set is fixed.
func (s *Service) ToggleTask(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID int64, taskCode string, enabled bool) error {
	err := s.toggleTask(ctx, scope, actorOrgUserID, roleID, taskCode, enabled)
	s.recordMutation("toggle_task", err)
	return err
}

func (s *Service) toggleTask(ctx context.Context, scope tenant.Scope, actorOrgUserID, roleID int64, taskCode string, enabled bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := s.roleInTx(ctx, tx, scope, roleID)
	if err != nil {
		return err
	}
	if role.IsProtected {
		return &ForbiddenError{Message: fmt.Sprintf("task set of protected role %q cannot be edited", role.Name)}
	}

	var taskID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM rbac_tasks
		WHERE module = $1 AND code = $2 AND is_active
	`, string(role.Module), taskCode).Scan(&taskID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s/%s: %w", role.Module, taskCode, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rbac_role_tasks (role_id, task_id, is_active, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (role_id, task_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
	`, roleID, taskID, enabled, actorOrgUserID)
	if err != nil {
		return fmt.Errorf("failed to toggle task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task toggle: %w", err)
	}

	s.audit.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeTaskToggle,
		Status:         audit.EventStatusSuccess,
		OrgID:          &role.OrgID,
		ActorOrgUserID: &actorOrgUserID,
		TargetType:     "role",
		TargetID:       &role.ID,
		Message:        fmt.Sprintf("set task %q on role %q to %t", taskCode, role.Name, enabled),
		Metadata:       map[string]interface{}{"task": taskCode, "enabled": enabled},
	})

	return nil
}

func (s *Service) roleInTx(ctx context.Context, tx *sql.Tx, scope tenant.Scope, roleID int64) (*Role, error) {
	pred, predArgs := scope.Predicate("rbac_roles", 2)
	query := fmt.Sprintf(`
		SELECT id, org_id, module, name, slug, is_protected, is_active, created_at, updated_at
		FROM rbac_roles
		WHERE id = $1 AND %s
	`, pred)

	args := append([]interface{}{roleID}, predArgs...)
	role, err := scanRole(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func (s *Service) recordMutation(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case IsConflict(err):
		outcome = "conflict"
	case IsForbidden(err):
		outcome = "forbidden"
	case err != nil:
		outcome = "error"
	}
	s.metrics.RecordRoleMutation(operation, outcome)
}
