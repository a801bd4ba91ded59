package rbac

import (
	"time"
)

// Module partitions roles and tasks into independent namespaces so the same
// role name can exist per module without collision.
type Module string

const (
	// ModuleFOH is the front-of-house module; its roles can only be held
	// by memberships carrying the FOH flag.
	ModuleFOH Module = "foh"
	// ModuleBackOffice covers administration, billing and reporting roles.
	ModuleBackOffice Module = "backoffice"
)

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	switch m {
	case ModuleFOH, ModuleBackOffice:
		return true
	}
	return false
}

// Role is a named permission bundle scoped to (org, module). Protected roles
// have an immutable task set and guard against self-lockout; protection is
// an explicit attribute, not a magic name, so renaming a role never changes
// its semantics.
type Role struct {
	ID          int64     `json:"id"`
	OrgID       int64     `json:"org_id"`
	Module      Module    `json:"module"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	IsProtected bool      `json:"is_protected"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category groups tasks for display within a module. It carries no
// authorization semantics.
type Category struct {
	ID        int64  `json:"id"`
	Module    Module `json:"module"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// Task is an atomic permission unit scoped to a module
type Task struct {
	ID          int64  `json:"id"`
	Module      Module `json:"module"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// RoleTask is the role-task join. Permissions are toggled by flipping
// IsActive rather than deleting the row, preserving audit history.
type RoleTask struct {
	ID        int64     `json:"id"`
	RoleID    int64     `json:"role_id"`
	TaskID    int64     `json:"task_id"`
	IsActive  bool      `json:"is_active"`
	UpdatedBy *int64    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleUser is the role-membership join. Revocation deactivates the row,
// never deletes it. OrgID and Module are denormalized from the role so the
// one-active-role-per-module constraint can live on this table.
type RoleUser struct {
	ID        int64      `json:"id"`
	RoleID    int64      `json:"role_id"`
	OrgUserID int64      `json:"org_user_id"`
	OrgID     int64      `json:"org_id"`
	Module    Module     `json:"module"`
	IsActive  bool       `json:"is_active"`
	GrantedBy *int64     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedBy *int64     `json:"revoked_by,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// RoleHolder describes a membership currently holding a role
type RoleHolder struct {
	OrgUserID   int64     `json:"org_user_id"`
	PrincipalID int64     `json:"principal_id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name,omitempty"`
	GrantedAt   time.Time `json:"granted_at"`
}

// TaskGroup is a category with its tasks, for role-editor views
type TaskGroup struct {
	Category *Category `json:"category,omitempty"`
	Tasks    []Task    `json:"tasks"`
}
