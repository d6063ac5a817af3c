package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/rbac"
)

type setActiveRequest struct {
	Active bool `json:"active"`
}

type projectRolesRequest struct {
	RoleIDs []uuid.UUID `json:"role_ids"`
}

type projectRolesResponse struct {
	ProjectID uuid.UUID   `json:"project_id"`
	RoleIDs   []uuid.UUID `json:"role_ids"`
}

// ListModules returns the active permission modules in display order
func (s *Server) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.modules.ListModules(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, modules)
}

// SetModuleActive toggles a module for the whole platform
func (s *Server) SetModuleActive(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleParam(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := s.modules.SetActive(r.Context(), module, req.Active); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateRole creates a role owned by the caller
func (s *Server) CreateRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	role, err := s.roles.CreateRole(r.Context(), caller(r).AccountID, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles lists the caller's roles
func (s *Server) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.ListRoles(r.Context(), caller(r).AccountID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// SeedRoleTemplates creates the configured role templates for the caller
func (s *Server) SeedRoleTemplates(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.SeedTemplates(r.Context(), caller(r).AccountID, s.templates)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, roles)
}

// loadRole fetches a role and checks the caller owns it
func (s *Server) loadRole(w http.ResponseWriter, r *http.Request) (*rbac.Role, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	role, err := s.roles.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, false
	}
	if !authorizeOwner(w, r, role.OwnerAccountID) {
		return nil, false
	}
	return role, true
}

// GetRole returns one role with its grants
func (s *Server) GetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := s.loadRole(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole replaces a role's name, description and grants
func (s *Server) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, ok := s.loadRole(w, r)
	if !ok {
		return
	}
	var in rbac.RoleInput
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := s.roles.UpdateRole(r.Context(), role.ID, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteRole deactivates a role. Members pointing at it lose its grants.
func (s *Server) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role, ok := s.loadRole(w, r)
	if !ok {
		return
	}
	if err := s.roles.DeleteRole(r.Context(), role.ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetProjectRoles replaces the roles assignable within a project
func (s *Server) SetProjectRoles(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	var req projectRolesRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := s.roles.SetAvailableRoles(r.Context(), projectID, req.RoleIDs); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.writeProjectRoles(w, r, projectID)
}

// ListProjectRoles lists the roles assignable within a project
func (s *Server) ListProjectRoles(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	s.writeProjectRoles(w, r, projectID)
}

func (s *Server) writeProjectRoles(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	ids, err := s.roles.ListAvailableRoles(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	httputil.WriteSuccess(w, projectRolesResponse{ProjectID: projectID, RoleIDs: ids})
}
