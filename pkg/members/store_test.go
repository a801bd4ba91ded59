package members

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/fitstack/pkg/tenant"
)

var memberRowColumns = []string{
	"id", "org_id", "email", "phone", "full_name", "status",
	"joined_at", "notes", "created_at", "updated_at", "deleted_at",
}

func memberRow(id, orgID int64, email, fullName, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(memberRowColumns).
		AddRow(id, orgID, email, nil, fullName, status, now, "", now, now, nil)
}

var identifierColumns = []string{"email", "phone", "full_name"}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, func() { db.Close() }
}

func TestRegister(t *testing.T) {
	scope := tenant.ForOrgUser(10)

	t.Run("creates the member under the scope's org", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns))
		mock.ExpectQuery("INSERT INTO members").
			WillReturnRows(memberRow(1, 2, "ada@example.com", "Ada Lovelace", "active"))

		m, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "Ada@Example.com",
			FullName: "Ada Lovelace",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), m.OrgID)
		assert.Equal(t, tenant.StatusActive, m.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects invalid input before touching the database", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		_, err := store.Register(context.Background(), scope, RegisterRequest{Email: "not-an-email", FullName: "X"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = store.Register(context.Background(), scope, RegisterRequest{Email: "a@b.com"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a deleted member still blocks its email", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns).
				AddRow("ada@example.com", nil, "Ada Lovelace"))

		_, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			FullName: "Another Ada",
		})
		require.Error(t, err)
		assert.True(t, IsDuplicate(err))
		var de *DuplicateError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "email", de.Field)
	})

	t.Run("an archived member frees its identifiers", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		// The duplicate check must skip archived rows: only an archived
		// member holds this email, so the query matches nothing and
		// registration proceeds to the insert.
		mock.ExpectQuery(`SELECT email, phone, full_name\s+FROM members\s+WHERE status <> 'archived'`).
			WillReturnRows(sqlmock.NewRows(identifierColumns))
		mock.ExpectQuery("INSERT INTO members").
			WillReturnRows(memberRow(2, 2, "ada@example.com", "Ada Lovelace", "active"))

		m, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
		})
		require.NoError(t, err)
		assert.Equal(t, tenant.StatusActive, m.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps index violations from the insert race", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns))
		mock.ExpectQuery("INSERT INTO members").
			WillReturnError(&pq.Error{Code: "23505", Constraint: uniqueEmailIndex})

		_, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
		})
		assert.True(t, IsDuplicate(err))
	})

	t.Run("reports phone collisions distinctly", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns).
				AddRow("other@example.com", "+15551234", "Someone Else"))

		_, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			Phone:    "+15551234",
			FullName: "Ada Lovelace",
		})
		var de *DuplicateError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "phone", de.Field)
	})

	t.Run("reports full name collisions distinctly", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns).
				AddRow("other@example.com", nil, "Ada Lovelace"))

		_, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			FullName: "ada lovelace",
		})
		var de *DuplicateError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "full_name", de.Field)
	})

	t.Run("maps a full name index violation from the insert race", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectQuery("SELECT email, phone, full_name").
			WillReturnRows(sqlmock.NewRows(identifierColumns))
		mock.ExpectQuery("INSERT INTO members").
			WillReturnError(&pq.Error{Code: "23505", Constraint: uniqueNameIndex})

		_, err := store.Register(context.Background(), scope, RegisterRequest{
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
		})
		var de *DuplicateError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "full_name", de.Field)
	})
}

func TestStatusTransitions(t *testing.T) {
	scope := tenant.ForOrgUser(10)

	t.Run("soft delete requires an active row", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectExec("UPDATE members").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SoftDelete(context.Background(), scope, 5)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("archive moves deleted to archived", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectExec("UPDATE members").
			WithArgs("archived", int64(5), "deleted", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Archive(context.Background(), scope, 5)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("restore moves deleted back to active", func(t *testing.T) {
		store, mock, done := newTestStore(t)
		defer done()

		mock.ExpectExec("UPDATE members").
			WithArgs("active", int64(5), "deleted", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Restore(context.Background(), scope, 5)
		assert.NoError(t, err)
	})
}

func TestListUnresolvedScope(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	// The unresolved scope compiles to FALSE; the query runs but can match
	// nothing.
	mock.ExpectQuery("SELECT .+ FROM members WHERE FALSE").
		WillReturnRows(sqlmock.NewRows(memberRowColumns))

	result, err := store.List(context.Background(), tenant.Empty(), "")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestArchiveExpired(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec("UPDATE members").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ArchiveExpired(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
