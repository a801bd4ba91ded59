package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fitstack/fitstack/pkg/tenant"
)

// ErrNotFound marks lookups that matched no visible row
var ErrNotFound = errors.New("member not found")

// ErrInvalidInput marks registration input rejected by validation
var ErrInvalidInput = errors.New("invalid input")

// DuplicateError reports an identifier already in use within the
// organization. Deleted members count as in use; archived ones do not.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q is already in use", e.Field, e.Value)
}

// IsDuplicate reports whether err is an identifier collision
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

// Store provides database operations for member records. All reads and
// mutations go through a tenant.Scope.
type Store struct {
	db *sql.DB
}

// NewStore creates a new member store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const memberColumns = "id, org_id, email, phone, full_name, status, joined_at, notes, created_at, updated_at, deleted_at"

// Register creates a member under the scope's organization. The org id is
// derived from the scope; an unresolved scope cannot insert.
func (s *Store) Register(ctx context.Context, scope tenant.Scope, req RegisterRequest) (*Member, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email is required: %w", ErrInvalidInput)
	}
	if fullName == "" {
		return nil, fmt.Errorf("full name is required: %w", ErrInvalidInput)
	}

	// Friendly duplicate check first; the partial unique indexes close the
	// race window.
	if err := s.checkIdentifiers(ctx, scope, email, phone, fullName); err != nil {
		return nil, err
	}

	orgExpr, orgArgs := scope.OrgIDExpr(5)
	args := append([]interface{}{email, nullStr(phone), fullName, req.Notes}, orgArgs...)
	query := fmt.Sprintf(`
		INSERT INTO members (email, phone, full_name, notes, org_id)
		VALUES ($1, $2, $3, $4, %s)
		RETURNING %s
	`, orgExpr, memberColumns)

	member, err := scanMember(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case uniqueEmailIndex:
				return nil, &DuplicateError{Field: "email", Value: email}
			case uniquePhoneIndex:
				return nil, &DuplicateError{Field: "phone", Value: phone}
			case uniqueNameIndex:
				return nil, &DuplicateError{Field: "full_name", Value: fullName}
			}
		}
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	return member, nil
}

func (s *Store) checkIdentifiers(ctx context.Context, scope tenant.Scope, email, phone, fullName string) error {
	pred, predArgs := scope.Predicate("members", 4)
	query := fmt.Sprintf(`
		SELECT email, phone, full_name
		FROM members
		WHERE status <> 'archived'
		  AND (LOWER(email) = $1 OR ($2 <> '' AND phone = $2) OR LOWER(full_name) = LOWER($3))
		  AND %s
		LIMIT 1
	`, pred)

	args := append([]interface{}{email, phone, fullName}, predArgs...)
	var foundEmail, foundName string
	var foundPhone sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&foundEmail, &foundPhone, &foundName)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check identifiers: %w", err)
	}
	switch {
	case strings.EqualFold(foundEmail, email):
		return &DuplicateError{Field: "email", Value: email}
	case phone != "" && foundPhone.String == phone:
		return &DuplicateError{Field: "phone", Value: phone}
	default:
		return &DuplicateError{Field: "full_name", Value: fullName}
	}
}

// Get retrieves a member by id within the scope
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id int64) (*Member, error) {
	pred, predArgs := scope.Predicate("members", 2)
	query := fmt.Sprintf(`
		SELECT %s FROM members WHERE id = $1 AND %s
	`, memberColumns, pred)

	args := append([]interface{}{id}, predArgs...)
	member, err := scanMember(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// GetByEmail retrieves an active member by email within the scope
func (s *Store) GetByEmail(ctx context.Context, scope tenant.Scope, email string) (*Member, error) {
	pred, predArgs := scope.Predicate("members", 2)
	query := fmt.Sprintf(`
		SELECT %s FROM members WHERE LOWER(email) = LOWER($1) AND status = 'active' AND %s
	`, memberColumns, pred)

	args := append([]interface{}{email}, predArgs...)
	member, err := scanMember(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// List returns the scope's members, optionally filtered by status
func (s *Store) List(ctx context.Context, scope tenant.Scope, status tenant.RecordStatus) ([]*Member, error) {
	pred, predArgs := scope.Predicate("members", 1)
	query := fmt.Sprintf(`
		SELECT %s FROM members WHERE %s
	`, memberColumns, pred)
	args := predArgs

	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(status))
	}
	query += " ORDER BY full_name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var result []*Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

// SoftDelete marks an active member deleted. The record stays and its
// identifiers remain reserved.
func (s *Store) SoftDelete(ctx context.Context, scope tenant.Scope, id int64) error {
	return s.transition(ctx, scope, id, tenant.StatusActive, tenant.StatusDeleted, true)
}

// Archive marks a deleted member archived, releasing its identifiers for
// reuse.
func (s *Store) Archive(ctx context.Context, scope tenant.Scope, id int64) error {
	return s.transition(ctx, scope, id, tenant.StatusDeleted, tenant.StatusArchived, false)
}

// Restore brings a deleted member back to active
func (s *Store) Restore(ctx context.Context, scope tenant.Scope, id int64) error {
	return s.transition(ctx, scope, id, tenant.StatusDeleted, tenant.StatusActive, false)
}

func (s *Store) transition(ctx context.Context, scope tenant.Scope, id int64, from, to tenant.RecordStatus, stampDeleted bool) error {
	pred, predArgs := scope.Predicate("members", 4)
	deletedExpr := "deleted_at"
	if stampDeleted {
		deletedExpr = "NOW()"
	} else if to == tenant.StatusActive {
		deletedExpr = "NULL"
	}
	query := fmt.Sprintf(`
		UPDATE members
		SET status = $1, deleted_at = %s, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND %s
	`, deletedExpr, pred)

	args := append([]interface{}{string(to), id, string(from)}, predArgs...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("member %d in status %s: %w", id, from, ErrNotFound)
	}
	return nil
}

// ArchiveExpired moves members deleted before the cutoff to archived,
// releasing their identifiers. Runs across all organizations; called by the
// retention job, not by request handlers.
func (s *Store) ArchiveExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET status = 'archived', updated_at = NOW()
		WHERE status = 'deleted' AND deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive expired members: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row rowScanner) (*Member, error) {
	var m Member
	var phone sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.OrgID, &m.Email, &phone, &m.FullName, &m.Status,
		&m.JoinedAt, &m.Notes, &m.CreatedAt, &m.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Phone = phone.String
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	return &m, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
