package rbac

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

// Store handles role and module catalog persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListModules returns active modules ordered by display_order
func (s *Store) ListModules(ctx context.Context) ([]Module, error) {
	query := `
		SELECT module_key, name, display_order, active
		FROM permission_modules
		WHERE active = true
		ORDER BY display_order ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap("rbac.list_modules", "failed to list modules", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.Key, &m.Name, &m.DisplayOrder, &m.Active); err != nil {
			return nil, apperr.Wrap("rbac.list_modules", "failed to scan module", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// SetModuleActive toggles a module in or out of the active catalog
func (s *Store) SetModuleActive(ctx context.Context, key ModuleKey, active bool) error {
	const op = "rbac.set_module_active"
	result, err := s.db.ExecContext(ctx,
		`UPDATE permission_modules SET active = $1 WHERE module_key = $2`, active, key)
	if err != nil {
		return apperr.Wrap(op, "failed to update module", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, "failed to get rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(op, "module %q not found", key)
	}
	return nil
}

// CreateRole inserts a role and its grants in one transaction. Grants must
// already be normalized.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	const op = "rbac.create_role"
	now := time.Now().UTC()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}

	err := postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roles (id, owner_account_id, name, description, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, $5, $6)
		`, role.ID, role.OwnerAccountID, role.Name, role.Description, now, now)
		if err != nil {
			return apperr.Wrap(op, "failed to insert role", err)
		}
		return insertGrants(ctx, tx, op, role.ID, role.Grants)
	})
	if err != nil {
		return err
	}

	role.Active = true
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// UpdateRole replaces the role's name, description and full grant set in
// one transaction. Inactive roles cannot be updated.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	const op = "rbac.update_role"
	now := time.Now().UTC()

	err := postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE roles SET name = $1, description = $2, updated_at = $3
			WHERE id = $4 AND active = true
		`, role.Name, role.Description, now, role.ID)
		if err != nil {
			return apperr.Wrap(op, "failed to update role", err)
		}
		if err := postgres.CheckAffected(ctx, tx, op, result, "roles", role.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return apperr.Wrap(op, "failed to clear role grants", err)
		}
		return insertGrants(ctx, tx, op, role.ID, role.Grants)
	})
	if err != nil {
		return err
	}

	role.UpdatedAt = now
	return nil
}

func insertGrants(ctx context.Context, tx *sql.Tx, op string, roleID uuid.UUID, grants []ModuleGrant) error {
	for i, g := range grants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, module_key, can_view, can_create, can_edit, can_delete, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, roleID, g.Module, g.View, g.Create, g.Edit, g.Delete, i)
		if err != nil {
			return apperr.Wrap(op, "failed to insert role grant", err)
		}
	}
	return nil
}

// DeleteRole soft-deletes a role. Members still referencing it keep the
// reference and resolve to no authority.
func (s *Store) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	const op = "rbac.delete_role"
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET active = false, updated_at = $1
		WHERE id = $2 AND active = true
	`, time.Now().UTC(), roleID)
	if err != nil {
		return apperr.Wrap(op, "failed to delete role", err)
	}
	return postgres.CheckAffected(ctx, s.db, op, result, "roles", roleID)
}

// GetRole retrieves a role, active or not, with its ordered grants
func (s *Store) GetRole(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	const op = "rbac.get_role"
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_account_id, name, description, active, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, roleID).Scan(
		&role.ID,
		&role.OwnerAccountID,
		&role.Name,
		&role.Description,
		&role.Active,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "role %s not found", roleID)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get role", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT module_key, can_view, can_create, can_edit, can_delete
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY position ASC
	`, roleID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get role grants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g ModuleGrant
		if err := rows.Scan(&g.Module, &g.View, &g.Create, &g.Edit, &g.Delete); err != nil {
			return nil, apperr.Wrap(op, "failed to scan role grant", err)
		}
		role.Grants = append(role.Grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, "failed to read role grants", err)
	}

	return &role, nil
}

// ListRoles lists the active roles of an owner account with their grants
func (s *Store) ListRoles(ctx context.Context, ownerAccountID uuid.UUID) ([]Role, error) {
	const op = "rbac.list_roles"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_account_id, name, description, active, created_at, updated_at
		FROM roles
		WHERE owner_account_id = $1 AND active = true
		ORDER BY name ASC
	`, ownerAccountID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list roles", err)
	}
	defer rows.Close()

	var roles []Role
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var role Role
		if err := rows.Scan(
			&role.ID,
			&role.OwnerAccountID,
			&role.Name,
			&role.Description,
			&role.Active,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(op, "failed to scan role", err)
		}
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, "failed to read roles", err)
	}
	if len(roles) == 0 {
		return roles, nil
	}

	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID.String()
	}

	grantRows, err := s.db.QueryContext(ctx, `
		SELECT role_id, module_key, can_view, can_create, can_edit, can_delete
		FROM role_permissions
		WHERE role_id = ANY($1::uuid[])
		ORDER BY role_id, position ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list role grants", err)
	}
	defer grantRows.Close()

	for grantRows.Next() {
		var roleID uuid.UUID
		var g ModuleGrant
		if err := grantRows.Scan(&roleID, &g.Module, &g.View, &g.Create, &g.Edit, &g.Delete); err != nil {
			return nil, apperr.Wrap(op, "failed to scan role grant", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Grants = append(roles[i].Grants, g)
		}
	}
	return roles, grantRows.Err()
}

// SetAvailableRoles replaces the project's role whitelist
func (s *Store) SetAvailableRoles(ctx context.Context, projectID uuid.UUID, roleIDs []uuid.UUID) error {
	const op = "rbac.set_available_roles"
	return postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_available_roles WHERE project_id = $1`, projectID); err != nil {
			return apperr.Wrap(op, "failed to clear available roles", err)
		}
		for _, roleID := range roleIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_available_roles (project_id, role_id) VALUES ($1, $2)`,
				projectID, roleID,
			); err != nil {
				return apperr.Wrap(op, "failed to insert available role", err)
			}
		}
		return nil
	})
}

// ListAvailableRoles returns the role ids whitelisted for a project
func (s *Store) ListAvailableRoles(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	const op = "rbac.list_available_roles"
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id FROM project_available_roles WHERE project_id = $1 ORDER BY role_id`, projectID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list available roles", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(op, "failed to scan available role", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsRoleAvailable reports whether roleID may be assigned in the project. A
// project without a whitelist accepts any role.
func (s *Store) IsRoleAvailable(ctx context.Context, projectID, roleID uuid.UUID) (bool, error) {
	var total, matching int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE role_id = $2)
		FROM project_available_roles
		WHERE project_id = $1
	`, projectID, roleID).Scan(&total, &matching)
	if err != nil {
		return false, apperr.Wrap("rbac.is_role_available", "failed to check role whitelist", err)
	}
	return total == 0 || matching > 0, nil
}

// ProjectOwner returns the owner account of a project
func (s *Store) ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	const op = "rbac.project_owner"
	var owner uuid.UUID
	err := s.db.QueryRowContext(ctx, `SELECT owner_account_id FROM projects WHERE id = $1`, projectID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, apperr.NotFound(op, "project %s not found", projectID)
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(op, "failed to get project owner", err)
	}
	return owner, nil
}
