package teams

import "github.com/platinummonkey/trellis/pkg/storage/postgres"

// Migrations returns the team schema. It depends on the rbac projects table.
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Component: "teams",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create teams and team_memberships tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS teams (
						id UUID PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMP NOT NULL
					);

					CREATE TABLE IF NOT EXISTS team_memberships (
						team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
						account_id UUID NOT NULL,
						role VARCHAR(32) NOT NULL CHECK (role IN ('member', 'team_admin')),
						PRIMARY KEY (team_id, account_id)
					);

					CREATE INDEX idx_team_memberships_account ON team_memberships(account_id);
				`,
			},
			{
				Version:     2,
				Description: "Create team_project_access table",
				SQL: `
					CREATE TABLE IF NOT EXISTS team_project_access (
						project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
						team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
						PRIMARY KEY (project_id, team_id)
					);
				`,
			},
		},
	}
}
