package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// Store provides persistence for principals
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePrincipal creates a new authentication identity
func (s *Store) CreatePrincipal(ctx context.Context, p *Principal) error {
	p.IsActive = true

	query := `
		INSERT INTO principals (email, full_name, password_hash, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, p.Email, p.FullName, p.PasswordHash, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}

	return nil
}

// GetPrincipal retrieves a principal by ID
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	return s.getPrincipal(ctx, "id = $1", id)
}

// GetPrincipalByEmail retrieves a principal by email
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	return s.getPrincipal(ctx, "email = $1", email)
}

func (s *Store) getPrincipal(ctx context.Context, where string, arg interface{}) (*Principal, error) {
	query := `
		SELECT id, email, full_name, password_hash, is_active, current_org_user_id,
		       created_at, updated_at, last_login_at
		FROM principals
		WHERE ` + where
	p := &Principal{}
	var currentOrgUserID sql.NullInt64
	var lastLoginAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.Email, &p.FullName, &p.PasswordHash, &p.IsActive,
		&currentOrgUserID, &p.CreatedAt, &p.UpdatedAt, &lastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("principal not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	if currentOrgUserID.Valid {
		id := currentOrgUserID.Int64
		p.CurrentOrgUserID = &id
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		p.LastLoginAt = &t
	}

	return p, nil
}

// TouchLastLogin records a successful login
func (s *Store) TouchLastLogin(ctx context.Context, id int64) error {
	query := `UPDATE principals SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}
