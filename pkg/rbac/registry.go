package rbac

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/sirupsen/logrus"
)

// Registry validates and persists roles and project role whitelists
type Registry struct {
	store  *Store
	logger *logrus.Logger
}

// NewRegistry creates a new role registry
func NewRegistry(store *Store, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{store: store, logger: logger}
}

func validateRoleInput(op string, in RoleInput) (RoleInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, apperr.Validation(op, "role name is required")
	}
	grants, err := NormalizeGrants(op, in.Grants)
	if err != nil {
		return in, err
	}
	in.Grants = grants
	return in, nil
}

// CreateRole creates a role owned by ownerAccountID
func (r *Registry) CreateRole(ctx context.Context, ownerAccountID uuid.UUID, in RoleInput) (*Role, error) {
	in, err := validateRoleInput("rbac.create_role", in)
	if err != nil {
		return nil, err
	}

	role := &Role{
		OwnerAccountID: ownerAccountID,
		Name:           in.Name,
		Description:    in.Description,
		Grants:         in.Grants,
	}
	if err := r.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"role_id": role.ID,
		"owner":   ownerAccountID,
		"grants":  len(role.Grants),
	}).Info("role created")
	return role, nil
}

// UpdateRole replaces a role's name, description and grants
func (r *Registry) UpdateRole(ctx context.Context, roleID uuid.UUID, in RoleInput) (*Role, error) {
	in, err := validateRoleInput("rbac.update_role", in)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !existing.Active {
		return nil, apperr.NotFound("rbac.update_role", "role %s has been deleted", roleID)
	}

	existing.Name = in.Name
	existing.Description = in.Description
	existing.Grants = in.Grants
	if err := r.store.UpdateRole(ctx, existing); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"role_id": roleID,
		"grants":  len(existing.Grants),
	}).Info("role updated")
	return existing, nil
}

// DeleteRole soft-deletes a role
func (r *Registry) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	if err := r.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	r.logger.WithField("role_id", roleID).Info("role deleted")
	return nil
}

// GetRole returns a role by id
func (r *Registry) GetRole(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	return r.store.GetRole(ctx, roleID)
}

// ListRoles returns the active roles of an owner
func (r *Registry) ListRoles(ctx context.Context, ownerAccountID uuid.UUID) ([]Role, error) {
	return r.store.ListRoles(ctx, ownerAccountID)
}

// SetAvailableRoles replaces the project's whitelist. Every role must exist
// and be active.
func (r *Registry) SetAvailableRoles(ctx context.Context, projectID uuid.UUID, roleIDs []uuid.UUID) error {
	const op = "rbac.set_available_roles"
	seen := make(map[uuid.UUID]bool, len(roleIDs))
	unique := make([]uuid.UUID, 0, len(roleIDs))
	for _, id := range roleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		role, err := r.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if !role.Active {
			return apperr.Validation(op, "role %s is not active", id)
		}
		unique = append(unique, id)
	}

	if err := r.store.SetAvailableRoles(ctx, projectID, unique); err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"roles":      len(unique),
	}).Info("project roles updated")
	return nil
}

// ListAvailableRoles returns the whitelisted role ids for a project
func (r *Registry) ListAvailableRoles(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return r.store.ListAvailableRoles(ctx, projectID)
}

// AssignableRole returns the role if it can be assigned to a member of the
// project: it must exist, be active and pass the project whitelist.
func (r *Registry) AssignableRole(ctx context.Context, projectID, roleID uuid.UUID) (*Role, error) {
	const op = "rbac.assignable_role"
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.Active {
		return nil, apperr.Validation(op, "role %s is not active", roleID)
	}
	ok, err := r.store.IsRoleAvailable(ctx, projectID, roleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(op, "role %s is not available in project %s", roleID, projectID)
	}
	return role, nil
}
