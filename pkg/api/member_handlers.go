package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/observability"
)

type addMemberRequest struct {
	AccessorID uuid.UUID         `json:"accessor_id"`
	Authority  members.Authority `json:"authority"`
}

type authorityRequest struct {
	Authority members.Authority `json:"authority"`
}

type syncTeamRequest struct {
	Authority  members.Authority `json:"authority"`
	AccountIDs []uuid.UUID       `json:"account_ids"`
}

// inviteFailure carries the partial outcome of an invite whose status was
// written but whose notification was not delivered
type inviteFailure struct {
	httputil.ErrorResponse
	Result *members.InviteResult `json:"result"`
}

// AddMember adds an accessor to a project in the open state
func (s *Server) AddMember(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	var req addMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if req.AccessorID == uuid.Nil {
		httputil.WriteError(w, r, apperr.Validation("members.add", "accessor_id is required"))
		return
	}
	m, err := s.members.AddMember(r.Context(), projectID, req.AccessorID, req.Authority)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, m)
}

// ListMembers lists a project's members
func (s *Server) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	list, err := s.members.List(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []*members.Member{}
	}
	httputil.WriteSuccess(w, list)
}

// loadMember fetches the {id} member. Unless self is set, only the owner of
// the member's project may continue; with self the member's own account may too.
func (s *Server) loadMember(w http.ResponseWriter, r *http.Request, self bool) (*members.Member, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	m, err := s.members.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, false
	}
	if self && m.AccountID != nil && *m.AccountID == caller(r).AccountID {
		return m, true
	}
	if !s.authorizeProject(w, r, m.ProjectID) {
		return nil, false
	}
	return m, true
}

// GetMember returns one member
func (s *Server) GetMember(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMember(w, r, true)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, m)
}

// RemoveMember deletes a member and its custom grants
func (s *Server) RemoveMember(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMember(w, r, false)
	if !ok {
		return
	}
	if err := s.members.Remove(r.Context(), m.ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetAuthority replaces a member's role or custom grants
func (s *Server) SetAuthority(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMember(w, r, false)
	if !ok {
		return
	}
	var req authorityRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := s.members.SetAuthority(r.Context(), m.ID, req.Authority)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// InviteMember sends an invitation. Concurrent invites of the same member
// are serialized; a failed delivery answers 502 with the partial result.
func (s *Server) InviteMember(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMember(w, r, false)
	if !ok {
		return
	}

	release, err := s.locker.Lock(r.Context(), "invite:"+m.ID.String())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer func() {
		if err := release(r.Context()); err != nil {
			observability.FromContext(r.Context()).WithError(err).WithField("member_id", m.ID.String()).Warn("failed to release invite lock")
		}
	}()

	result, err := s.members.Invite(r.Context(), m.ID)
	if err != nil {
		if result != nil {
			observability.FromContext(r.Context()).WithError(err).WithField("member_id", m.ID.String()).Warn("invitation not delivered")
			httputil.WriteJSON(w, apperr.HTTPStatus(err), inviteFailure{
				ErrorResponse: httputil.ErrorResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))},
				Result:        result,
			})
			return
		}
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ListInvitations lists every invitation sent to a member
func (s *Server) ListInvitations(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMember(w, r, false)
	if !ok {
		return
	}
	records, err := s.members.Invitations(r.Context(), m.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if records == nil {
		records = []members.InvitationRecord{}
	}
	httputil.WriteSuccess(w, records)
}

// AcceptInvitation activates an invited member for the caller. The caller
// must be the accessor's registered account or, for an accessor without
// one, own the invited email address.
func (s *Server) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	m, err := s.members.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	acc, err := s.accessors.Get(r.Context(), m.AccessorID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	who := caller(r)
	switch {
	case acc.HasAccount():
		if *acc.RegisteredAccountID != who.AccountID {
			httputil.WriteForbidden(w, "invitation was sent to another account")
			return
		}
	case who.Email == "" || who.Email != acc.Email:
		httputil.WriteForbidden(w, "invitation was sent to another email address")
		return
	}

	accepted, err := s.members.Accept(r.Context(), m.ID, who.AccountID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, accepted)
}

// DeactivateMember suspends an active member
func (s *Server) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	s.toggleMember(w, r, s.members.SetInactive)
}

// ReactivateMember restores an inactive member
func (s *Server) ReactivateMember(w http.ResponseWriter, r *http.Request) {
	s.toggleMember(w, r, s.members.Reactivate)
}

func (s *Server) toggleMember(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (*members.Member, error)) {
	m, ok := s.loadMember(w, r, false)
	if !ok {
		return
	}
	updated, err := apply(r.Context(), m.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// SyncTeam adds the caller's teammates to the project as active members.
// The caller must be an admin of the team; the report lists per-account
// outcomes since accounts are added one by one.
func (s *Server) SyncTeam(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}
	teamID, ok := uuidParam(w, r, "team")
	if !ok {
		return
	}
	var req syncTeamRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	report, err := s.members.SyncTeam(r.Context(), members.SyncRequest{
		ProjectID:       projectID,
		TeamID:          teamID,
		ActingAccountID: caller(r).AccountID,
		Authority:       req.Authority,
		AccountIDs:      req.AccountIDs,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}
