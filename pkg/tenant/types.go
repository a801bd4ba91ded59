package tenant

import "time"

// RecordStatus is the lifecycle state of tenant-owned rows. Soft-deleted
// rows keep their identifiers reserved; archived rows release them.
type RecordStatus string

const (
	StatusActive   RecordStatus = "active"
	StatusDeleted  RecordStatus = "deleted"
	StatusArchived RecordStatus = "archived"
)

// Valid reports whether s is a known record status
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDeleted, StatusArchived:
		return true
	}
	return false
}

// Organization is the root tenant. It owns every scoped entity via org_id
// and is only ever soft-deleted while dependents exist.
type Organization struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	DisplayName string       `json:"display_name"`
	IsActive    bool         `json:"is_active"`
	Status      RecordStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// OrgUser is a principal's membership within one organization. A principal
// may hold many memberships but exactly one is current at a time (the
// principal's current_org_user_id pointer).
type OrgUser struct {
	ID          int64        `json:"id"`
	OrgID       int64        `json:"org_id"`
	PrincipalID int64        `json:"principal_id"`
	IsFOHUser   bool         `json:"is_foh_user"`
	IsStaff     bool         `json:"is_staff"`
	IsActive    bool         `json:"is_active"`
	Status      RecordStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
