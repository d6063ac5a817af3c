package members

import "github.com/platinummonkey/trellis/pkg/storage/postgres"

// Migrations returns the membership schema. It must run after the rbac,
// accessors and teams sets.
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Component: "members",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create project_members and project_member_permissions tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS project_members (
						id UUID PRIMARY KEY,
						project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
						accessor_id UUID NOT NULL REFERENCES accessors(id),
						account_id UUID,
						type VARCHAR(32) NOT NULL,
						role_id UUID REFERENCES roles(id),
						status VARCHAR(16) NOT NULL CHECK (status IN ('open', 'invited', 'active', 'inactive')),
						invited_at TIMESTAMP,
						accepted_at TIMESTAMP,
						team_id UUID REFERENCES teams(id),
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						UNIQUE (project_id, accessor_id)
					);

					CREATE INDEX idx_project_members_project_account ON project_members(project_id, account_id);

					CREATE TABLE IF NOT EXISTS project_member_permissions (
						project_member_id UUID NOT NULL REFERENCES project_members(id) ON DELETE CASCADE,
						module_key VARCHAR(64) NOT NULL REFERENCES permission_modules(module_key),
						can_view BOOLEAN NOT NULL DEFAULT FALSE,
						can_create BOOLEAN NOT NULL DEFAULT FALSE,
						can_edit BOOLEAN NOT NULL DEFAULT FALSE,
						can_delete BOOLEAN NOT NULL DEFAULT FALSE,
						PRIMARY KEY (project_member_id, module_key),
						CHECK (can_view OR NOT (can_create OR can_edit OR can_delete))
					);
				`,
			},
			{
				Version:     2,
				Description: "Create invitations table",
				SQL: `
					CREATE TABLE IF NOT EXISTS invitations (
						id UUID PRIMARY KEY,
						project_member_id UUID NOT NULL REFERENCES project_members(id) ON DELETE CASCADE,
						project_id UUID NOT NULL,
						account_id UUID,
						email VARCHAR(320) NOT NULL,
						notification_created BOOLEAN NOT NULL,
						delivered BOOLEAN NOT NULL,
						sent_at TIMESTAMP NOT NULL
					);

					CREATE INDEX idx_invitations_member ON invitations(project_member_id, sent_at);
				`,
			},
		},
	}
}
