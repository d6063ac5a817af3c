package api

import (
	"net/http"

	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/resolver"
)

// CheckPermission answers whether the caller may perform operation on module.
// Passing owner_team or owner_is_project_owner targets a specific instance.
func (s *Server) CheckPermission(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}

	module, err := rbac.ParseModuleKey(r.URL.Query().Get("module"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	op, err := rbac.ParseOperation(httputil.ParseQueryString(r, "operation", string(rbac.OpView)))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	var inst *resolver.Instance
	q := r.URL.Query()
	if q.Has("owner_team") || q.Has("owner_is_project_owner") {
		ownerTeam, err := httputil.ParseQueryUUID(r, "owner_team")
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		ownedByOwner, err := httputil.ParseQueryBool(r, "owner_is_project_owner", false)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		inst = &resolver.Instance{OwnerTeamID: ownerTeam, OwnedByProjectOwner: ownedByOwner}
	}

	decision := s.checker.CheckPermission(r.Context(), caller(r), projectID, module, op, inst)
	httputil.WriteSuccess(w, decision)
}

// ListEffectivePermissions returns the caller's grant on every active module
func (s *Server) ListEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, s.checker.ListEffectivePermissions(r.Context(), caller(r), projectID))
}
