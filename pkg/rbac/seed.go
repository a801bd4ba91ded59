package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed describes the catalog of categories, tasks and roles provisioned for
// each organization. Tasks and categories are global per module; roles are
// created per organization.
type Seed struct {
	Modules []ModuleSeed `yaml:"modules"`
}

// ModuleSeed is one module's slice of the seed
type ModuleSeed struct {
	Module     Module         `yaml:"module"`
	Categories []CategorySeed `yaml:"categories"`
	Roles      []RoleSeed     `yaml:"roles"`
}

// CategorySeed groups task definitions
type CategorySeed struct {
	Name      string     `yaml:"name"`
	SortOrder int        `yaml:"sort_order"`
	Tasks     []TaskSeed `yaml:"tasks"`
}

// TaskSeed defines one task
type TaskSeed struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

// RoleSeed defines one role template. Protected roles ignore Tasks: they
// grant everything in their module.
type RoleSeed struct {
	Name      string   `yaml:"name"`
	Protected bool     `yaml:"protected"`
	Tasks     []string `yaml:"tasks"`
}

const defaultSeedYAML = `
modules:
  - module: backoffice
    categories:
      - name: Members
        sort_order: 1
        tasks:
          - code: members.register
            description: Register new members
          - code: members.view
            description: View member profiles
          - code: members.archive
            description: Archive members
      - name: Roles
        sort_order: 2
        tasks:
          - code: roles.manage
            description: Create roles and edit their task sets
          - code: roles.assign
            description: Grant and revoke roles
      - name: Billing
        sort_order: 3
        tasks:
          - code: billing.invoices
            description: View and issue invoices
          - code: billing.reports
            description: View revenue reports
    roles:
      - name: Owner
        protected: true
      - name: Manager
        tasks:
          - members.register
          - members.view
          - members.archive
          - roles.assign
      - name: Receptionist
        tasks:
          - members.register
          - members.view
  - module: foh
    categories:
      - name: Check-in
        sort_order: 1
        tasks:
          - code: checkin.desk
            description: Check members in at the front desk
          - code: checkin.override
            description: Override a denied check-in
      - name: Classes
        sort_order: 2
        tasks:
          - code: classes.roster
            description: View class rosters
          - code: classes.mark_attendance
            description: Mark class attendance
    roles:
      - name: Floor Lead
        protected: true
      - name: Front Desk
        tasks:
          - checkin.desk
          - classes.roster
`

// DefaultSeed returns the built-in catalog
func DefaultSeed() (*Seed, error) {
	return ParseSeed([]byte(defaultSeedYAML))
}

// ParseSeed parses and validates seed YAML
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeed reads seed YAML from a reader
func LoadSeed(r io.Reader) (*Seed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return ParseSeed(data)
}

// LoadSeedFile reads seed YAML from a file
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// Validate checks module names, task references and the one-protected-role
// rule per module.
func (s *Seed) Validate() error {
	if len(s.Modules) == 0 {
		return fmt.Errorf("seed defines no modules")
	}

	seenModules := make(map[Module]bool)
	for _, ms := range s.Modules {
		if !ms.Module.Valid() {
			return fmt.Errorf("unknown module %q", ms.Module)
		}
		if seenModules[ms.Module] {
			return fmt.Errorf("module %s defined twice", ms.Module)
		}
		seenModules[ms.Module] = true

		taskCodes := make(map[string]bool)
		for _, cat := range ms.Categories {
			for _, task := range cat.Tasks {
				if task.Code == "" {
					return fmt.Errorf("module %s: task with empty code in category %q", ms.Module, cat.Name)
				}
				if taskCodes[task.Code] {
					return fmt.Errorf("module %s: task %q defined twice", ms.Module, task.Code)
				}
				taskCodes[task.Code] = true
			}
		}

		protectedCount := 0
		for _, role := range ms.Roles {
			if role.Name == "" {
				return fmt.Errorf("module %s: role with empty name", ms.Module)
			}
			if role.Protected {
				protectedCount++
				if len(role.Tasks) > 0 {
					return fmt.Errorf("module %s: protected role %q must not list tasks", ms.Module, role.Name)
				}
				continue
			}
			for _, code := range role.Tasks {
				if !taskCodes[code] {
					return fmt.Errorf("module %s: role %q references unknown task %q", ms.Module, role.Name, code)
				}
			}
		}
		if protectedCount != 1 {
			return fmt.Errorf("module %s: expected exactly one protected role, got %d", ms.Module, protectedCount)
		}
	}
	return nil
}

// Provision applies the seed for an organization. It is idempotent: the
// global task catalog is upserted, and roles that already exist for the
// organization are left untouched so local task edits survive re-runs.
func (s *Seed) Provision(ctx context.Context, db *sql.DB, orgID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ms := range s.Modules {
		taskIDs := make(map[string]int64)

		for _, cat := range ms.Categories {
			var categoryID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO rbac_categories (module, name, sort_order)
				VALUES ($1, $2, $3)
				ON CONFLICT (module, name) DO UPDATE SET sort_order = EXCLUDED.sort_order
				RETURNING id
			`, string(ms.Module), cat.Name, cat.SortOrder).Scan(&categoryID)
			if err != nil {
				return fmt.Errorf("failed to upsert category %q: %w", cat.Name, err)
			}

			for _, task := range cat.Tasks {
				var taskID int64
				err := tx.QueryRowContext(ctx, `
					INSERT INTO rbac_tasks (module, category_id, code, description, is_active)
					VALUES ($1, $2, $3, $4, TRUE)
					ON CONFLICT (module, code) DO UPDATE SET
						category_id = EXCLUDED.category_id,
						description = EXCLUDED.description,
						is_active = TRUE
					RETURNING id
				`, string(ms.Module), categoryID, task.Code, task.Description).Scan(&taskID)
				if err != nil {
					return fmt.Errorf("failed to upsert task %q: %w", task.Code, err)
				}
				taskIDs[task.Code] = taskID
			}
		}

		for _, roleSeed := range ms.Roles {
			var roleID int64
			var created bool
			err := tx.QueryRowContext(ctx, `
				INSERT INTO rbac_roles (org_id, module, name, slug, is_protected)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (org_id, module, slug) DO NOTHING
				RETURNING id
			`, orgID, string(ms.Module), roleSeed.Name, slugify(roleSeed.Name), roleSeed.Protected).Scan(&roleID)
			if err == sql.ErrNoRows {
				// Role already provisioned; leave it and its task set alone.
				created = false
			} else if err != nil {
				return fmt.Errorf("failed to insert role %q: %w", roleSeed.Name, err)
			} else {
				created = true
			}

			if !created || roleSeed.Protected {
				continue
			}

			for _, code := range roleSeed.Tasks {
				taskID, ok := taskIDs[code]
				if !ok {
					return fmt.Errorf("role %q references unknown task %q", roleSeed.Name, code)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO rbac_role_tasks (role_id, task_id, is_active)
					VALUES ($1, $2, TRUE)
					ON CONFLICT (role_id, task_id) DO NOTHING
				`, roleID, taskID); err != nil {
					return fmt.Errorf("failed to grant task %q to role %q: %w", code, roleSeed.Name, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit provisioning: %w", err)
	}
	return nil
}
