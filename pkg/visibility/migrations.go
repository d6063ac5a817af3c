package visibility

import "github.com/platinummonkey/trellis/pkg/storage/postgres"

// Migrations returns the visibility defaults schema. It must run after rbac.
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Component: "visibility",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create content_visibility_defaults table",
				SQL: `
					CREATE TABLE IF NOT EXISTS content_visibility_defaults (
						project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
						module_key VARCHAR(64) NOT NULL REFERENCES permission_modules(module_key),
						visibility VARCHAR(32) NOT NULL CHECK (visibility IN ('all_participants', 'team_only', 'owner_only')),
						has_custom_default BOOLEAN NOT NULL DEFAULT TRUE,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (project_id, module_key)
					);
				`,
			},
		},
	}
}
