package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// oneActiveRoleIndex backs the one-role-per-module invariant at the storage
// layer. Unique violations on it are translated to ConflictError so racing
// assignments fail the same way the application-level pre-check does.
const oneActiveRoleIndex = "idx_rbac_role_users_one_active_per_module"

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create rbac_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_roles (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE RESTRICT,
					module VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL,
					is_protected BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(org_id, module, slug)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_roles_org_module ON rbac_roles(org_id, module);
			`,
		},
		{
			Version:     2,
			Description: "Create rbac_categories and rbac_tasks tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_categories (
					id BIGSERIAL PRIMARY KEY,
					module VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					sort_order INT NOT NULL DEFAULT 0,
					UNIQUE(module, name)
				);

				CREATE TABLE IF NOT EXISTS rbac_tasks (
					id BIGSERIAL PRIMARY KEY,
					module VARCHAR(32) NOT NULL,
					category_id BIGINT REFERENCES rbac_categories(id) ON DELETE SET NULL,
					code VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					UNIQUE(module, code)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_tasks_module ON rbac_tasks(module);
			`,
		},
		{
			Version:     3,
			Description: "Create rbac_role_tasks table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_role_tasks (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES rbac_roles(id) ON DELETE CASCADE,
					task_id BIGINT NOT NULL REFERENCES rbac_tasks(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					updated_by BIGINT REFERENCES org_users(id) ON DELETE SET NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, task_id)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create rbac_role_users table with one-active-role constraint",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_role_users (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES rbac_roles(id) ON DELETE CASCADE,
					org_user_id BIGINT NOT NULL REFERENCES org_users(id) ON DELETE CASCADE,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE RESTRICT,
					module VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					granted_by BIGINT REFERENCES org_users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					revoked_by BIGINT REFERENCES org_users(id) ON DELETE SET NULL,
					revoked_at TIMESTAMP,
					UNIQUE(role_id, org_user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_role_users_org_user ON rbac_role_users(org_user_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_rbac_role_users_one_active_per_module
					ON rbac_role_users(org_user_id, module) WHERE is_active;
			`,
		},
	}
}

// RunMigrations applies pending RBAC migrations in order, tracking applied
// versions in rbac_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
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
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
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
