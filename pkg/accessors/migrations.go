package accessors

import "github.com/platinummonkey/trellis/pkg/storage/postgres"

// Migrations returns the accessor directory schema. Email uniqueness per
// owner is checked by the directory, not by a constraint.
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Component: "accessors",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create accessors table",
				SQL: `
					CREATE TABLE IF NOT EXISTS accessors (
						id UUID PRIMARY KEY,
						owner_account_id UUID NOT NULL,
						email VARCHAR(320) NOT NULL DEFAULT '',
						name VARCHAR(255) NOT NULL DEFAULT '',
						company VARCHAR(255) NOT NULL DEFAULT '',
						type VARCHAR(32) NOT NULL,
						registered_account_id UUID,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						CHECK (type IN ('employee', 'owner', 'subcontractor', 'other'))
					);

					CREATE INDEX idx_accessors_owner_email ON accessors(owner_account_id, email) WHERE active;
					CREATE INDEX idx_accessors_registered_account ON accessors(registered_account_id);
				`,
			},
		},
	}
}
