package api

import (
	"net/http"

	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/httputil"
)

// CreateAccessor adds a person to the caller's directory
func (s *Server) CreateAccessor(w http.ResponseWriter, r *http.Request) {
	var in accessors.Input
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	acc, err := s.accessors.Create(r.Context(), caller(r).AccountID, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, acc)
}

// ListAccessors lists the caller's directory
func (s *Server) ListAccessors(w http.ResponseWriter, r *http.Request) {
	list, err := s.accessors.List(r.Context(), caller(r).AccountID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []*accessors.Accessor{}
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) loadAccessor(w http.ResponseWriter, r *http.Request) (*accessors.Accessor, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	acc, err := s.accessors.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, false
	}
	if !authorizeOwner(w, r, acc.OwnerAccountID) {
		return nil, false
	}
	return acc, true
}

// GetAccessor returns one accessor
func (s *Server) GetAccessor(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.loadAccessor(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, acc)
}

// UpdateAccessor replaces an accessor's editable fields
func (s *Server) UpdateAccessor(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.loadAccessor(w, r)
	if !ok {
		return
	}
	var in accessors.Input
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := s.accessors.Update(r.Context(), acc.ID, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteAccessor deactivates an accessor; existing memberships stay
func (s *Server) DeleteAccessor(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.loadAccessor(w, r)
	if !ok {
		return
	}
	if err := s.accessors.Delete(r.Context(), acc.ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
