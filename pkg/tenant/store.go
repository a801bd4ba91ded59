package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store provides persistence for organizations and memberships
type Store struct {
	db *sql.DB
}

// NewStore creates a new tenant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateOrganization creates a new organization
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	org.IsActive = true
	org.Status = StatusActive

	query := `
		INSERT INTO organizations (name, slug, display_name, is_active, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, org.Name, org.Slug, org.DisplayName, org.IsActive, org.Status).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `
		SELECT id, name, slug, display_name, is_active, status, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.Slug, &org.DisplayName,
		&org.IsActive, &org.Status, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// SoftDeleteOrganization marks an organization deleted. Organizations are
// never hard-deleted while dependents exist.
func (s *Store) SoftDeleteOrganization(ctx context.Context, id int64) error {
	query := `
		UPDATE organizations
		SET status = 'deleted', is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("organization not found")
	}

	return nil
}

// CreateOrgUser creates a membership for a principal within an organization
func (s *Store) CreateOrgUser(ctx context.Context, ou *OrgUser) error {
	ou.IsActive = true
	ou.Status = StatusActive

	query := `
		INSERT INTO org_users (org_id, principal_id, is_foh_user, is_staff, is_active, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		ou.OrgID, ou.PrincipalID, ou.IsFOHUser, ou.IsStaff, ou.IsActive, ou.Status,
	).Scan(&ou.ID, &ou.CreatedAt, &ou.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create org user: %w", err)
	}

	return nil
}

// GetOrgUser retrieves a membership by ID
func (s *Store) GetOrgUser(ctx context.Context, id int64) (*OrgUser, error) {
	query := `
		SELECT id, org_id, principal_id, is_foh_user, is_staff, is_active, status, created_at, updated_at
		FROM org_users
		WHERE id = $1
	`
	ou := &OrgUser{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ou.ID, &ou.OrgID, &ou.PrincipalID, &ou.IsFOHUser, &ou.IsStaff,
		&ou.IsActive, &ou.Status, &ou.CreatedAt, &ou.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("org user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org user: %w", err)
	}

	return ou, nil
}

// ListMemberships lists a principal's active memberships across all
// organizations, most recent first.
func (s *Store) ListMemberships(ctx context.Context, principalID int64) ([]*OrgUser, error) {
	query := `
		SELECT ou.id, ou.org_id, ou.principal_id, ou.is_foh_user, ou.is_staff,
		       ou.is_active, ou.status, ou.created_at, ou.updated_at
		FROM org_users ou
		JOIN organizations o ON o.id = ou.org_id
		WHERE ou.principal_id = $1
		  AND ou.status = 'active' AND ou.is_active
		  AND o.status = 'active' AND o.is_active
		ORDER BY ou.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*OrgUser
	for rows.Next() {
		ou := &OrgUser{}
		if err := rows.Scan(
			&ou.ID, &ou.OrgID, &ou.PrincipalID, &ou.IsFOHUser, &ou.IsStaff,
			&ou.IsActive, &ou.Status, &ou.CreatedAt, &ou.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, ou)
	}

	return memberships, rows.Err()
}

// HasFOHAccessElsewhere reports whether the principal holds front-of-house
// access in any organization other than the given one. The access gate uses
// this to choose between org-selection redirect and total denial.
func (s *Store) HasFOHAccessElsewhere(ctx context.Context, principalID, excludeOrgID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM org_users ou
			JOIN organizations o ON o.id = ou.org_id
			WHERE ou.principal_id = $1
			  AND ou.org_id <> $2
			  AND ou.is_foh_user
			  AND ou.status = 'active' AND ou.is_active
			  AND o.status = 'active' AND o.is_active
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, principalID, excludeOrgID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check foh access: %w", err)
	}
	return exists, nil
}

// HasStaffAccessAnywhere reports whether the principal holds staff capability
// in any organization. Principals without it are customer-only and must never
// reach staff routes.
func (s *Store) HasStaffAccessAnywhere(ctx context.Context, principalID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM org_users ou
			JOIN organizations o ON o.id = ou.org_id
			WHERE ou.principal_id = $1
			  AND ou.is_staff
			  AND ou.status = 'active' AND ou.is_active
			  AND o.status = 'active' AND o.is_active
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, principalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check staff access: %w", err)
	}
	return exists, nil
}

// SetCurrentOrgUser switches the principal's current organization. The
// membership must belong to the principal and be active, checked in the same
// statement so a forged membership id cannot be installed.
func (s *Store) SetCurrentOrgUser(ctx context.Context, principalID, orgUserID int64) error {
	query := `
		UPDATE principals
		SET current_org_user_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (
			SELECT 1 FROM org_users ou
			WHERE ou.id = $2 AND ou.principal_id = $1
			  AND ou.status = 'active' AND ou.is_active
		  )
	`
	result, err := s.db.ExecContext(ctx, query, principalID, orgUserID)
	if err != nil {
		return fmt.Errorf("failed to switch organization: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("membership not found or not active")
	}

	return nil
}

// ArchiveOrgUser archives a membership, releasing its identifiers for reuse
func (s *Store) ArchiveOrgUser(ctx context.Context, id int64) error {
	return s.setOrgUserStatus(ctx, id, StatusArchived)
}

// SoftDeleteOrgUser soft-deletes a membership; its identifiers stay reserved
func (s *Store) SoftDeleteOrgUser(ctx context.Context, id int64) error {
	return s.setOrgUserStatus(ctx, id, StatusDeleted)
}

func (s *Store) setOrgUserStatus(ctx context.Context, id int64, status RecordStatus) error {
	query := `
		UPDATE org_users
		SET status = $2, is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update org user status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("org user not found")
	}

	return nil
}

// generateSlug derives a URL-safe slug from an organization name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
