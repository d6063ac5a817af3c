package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/visibility"
)

type saveVisibilityRequest struct {
	Defaults []visibility.Entry `json:"defaults"`
}

type updateVisibilityRequest struct {
	Visibility visibility.Visibility `json:"visibility"`
}

// ListVisibility returns the visibility default of every active module
func (s *Server) ListVisibility(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}
	s.writeDefaults(w, r, projectID)
}

// SaveVisibility writes several module defaults in one transaction
func (s *Server) SaveVisibility(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	var req saveVisibilityRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := s.visibility.SaveAll(r.Context(), projectID, req.Defaults); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.writeDefaults(w, r, projectID)
}

// UpdateVisibility sets the default of one module
func (s *Server) UpdateVisibility(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	module, ok := moduleParam(w, r)
	if !ok {
		return
	}
	var req updateVisibilityRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	v, err := visibility.ParseVisibility(string(req.Visibility))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	def, err := s.visibility.UpdateDefault(r.Context(), projectID, module, v)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, def)
}

// ResetVisibility drops a module's explicit default
func (s *Server) ResetVisibility(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	module, ok := moduleParam(w, r)
	if !ok {
		return
	}
	if err := s.visibility.ResetDefault(r.Context(), projectID, module); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) writeDefaults(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	defaults, err := s.visibility.Defaults(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, defaults)
}
