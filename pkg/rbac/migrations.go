package rbac

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

// Migrations returns the schema owned by the role and module catalog. The
// projects table is owned by the wider platform; it is created here only if
// absent so the catalog can reference it.
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Component: "rbac",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create projects reference table",
				SQL: `
					CREATE TABLE IF NOT EXISTS projects (
						id UUID PRIMARY KEY,
						owner_account_id UUID NOT NULL
					);
				`,
			},
			{
				Version:     2,
				Description: "Create permission_modules table",
				SQL: `
					CREATE TABLE IF NOT EXISTS permission_modules (
						module_key VARCHAR(64) PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						display_order INT NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE
					);
				` + seedModulesSQL(),
			},
			{
				Version:     3,
				Description: "Create roles and role_permissions tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS roles (
						id UUID PRIMARY KEY,
						owner_account_id UUID NOT NULL,
						name VARCHAR(255) NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL
					);

					CREATE INDEX idx_roles_owner ON roles(owner_account_id) WHERE active;

					CREATE TABLE IF NOT EXISTS role_permissions (
						role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
						module_key VARCHAR(64) NOT NULL REFERENCES permission_modules(module_key),
						can_view BOOLEAN NOT NULL DEFAULT FALSE,
						can_create BOOLEAN NOT NULL DEFAULT FALSE,
						can_edit BOOLEAN NOT NULL DEFAULT FALSE,
						can_delete BOOLEAN NOT NULL DEFAULT FALSE,
						position INT NOT NULL,
						PRIMARY KEY (role_id, module_key),
						CHECK (can_view OR NOT (can_create OR can_edit OR can_delete))
					);
				`,
			},
			{
				Version:     4,
				Description: "Create project_available_roles table",
				SQL: `
					CREATE TABLE IF NOT EXISTS project_available_roles (
						project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
						role_id UUID NOT NULL REFERENCES roles(id),
						PRIMARY KEY (project_id, role_id)
					);
				`,
			},
		},
	}
}

func seedModulesSQL() string {
	values := make([]string, 0, len(builtinModules))
	for _, m := range builtinModules {
		values = append(values, fmt.Sprintf("('%s', '%s', %d, %t)", m.Key, m.Name, m.DisplayOrder, m.Active))
	}
	return "INSERT INTO permission_modules (module_key, name, display_order, active) VALUES " +
		strings.Join(values, ", ") + " ON CONFLICT (module_key) DO NOTHING;"
}
