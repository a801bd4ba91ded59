package members

import (
	"context"
	"database/sql"
	"fmt"
)

// Identifier uniqueness is enforced by partial unique indexes covering
// active and deleted rows. Archived rows fall outside the index, so their
// identifiers become reusable.
const (
	uniqueEmailIndex = "idx_members_email_in_use"
	uniquePhoneIndex = "idx_members_phone_in_use"
	uniqueNameIndex  = "idx_members_full_name_in_use"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all member migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS members (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE RESTRICT,
					email VARCHAR(255) NOT NULL,
					phone VARCHAR(32),
					full_name VARCHAR(255) NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'deleted', 'archived')),
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					notes TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_members_org ON members(org_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_members_email_in_use
					ON members(org_id, LOWER(email)) WHERE status <> 'archived';
				CREATE UNIQUE INDEX IF NOT EXISTS idx_members_phone_in_use
					ON members(org_id, phone) WHERE status <> 'archived' AND phone IS NOT NULL;
			`,
		},
		{
			Version:     2,
			Description: "Reserve member full names alongside email and phone",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_members_full_name_in_use
					ON members(org_id, LOWER(full_name)) WHERE status <> 'archived';
			`,
		},
	}
}

// RunMigrations applies pending member migrations in order
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS member_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM member_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO member_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
