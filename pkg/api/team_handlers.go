package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/teams"
)

type createTeamRequest struct {
	Name string `json:"name"`
}

type addTeamMemberRequest struct {
	AccountID uuid.UUID  `json:"account_id"`
	Role      teams.Role `json:"role"`
}

// CreateTeam creates a team with the caller as its first team admin
func (s *Server) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	team, err := s.teams.Create(r.Context(), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := s.teams.AddMembership(r.Context(), team.ID, caller(r).AccountID, teams.RoleTeamAdmin); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithField("team_id", team.ID).Info("Team created")
	httputil.WriteCreated(w, team)
}

// ListTeams lists active teams
func (s *Server) ListTeams(w http.ResponseWriter, r *http.Request) {
	list, err := s.teams.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []teams.Team{}
	}
	httputil.WriteSuccess(w, list)
}

// GetTeam returns one team
func (s *Server) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := uuidParam(w, r, "team")
	if !ok {
		return
	}
	team, err := s.teams.Get(r.Context(), teamID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// DeleteTeam deactivates a team. Members already synced into projects stay.
func (s *Server) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.authorizeTeamAdmin(w, r)
	if !ok {
		return
	}
	if err := s.teams.Deactivate(r.Context(), teamID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AddTeamMember adds an account to a team or changes its team role
func (s *Server) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.authorizeTeamAdmin(w, r)
	if !ok {
		return
	}
	var req addTeamMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if req.AccountID == uuid.Nil {
		httputil.WriteError(w, r, apperr.Validation("api.add_team_member", "account_id is required"))
		return
	}
	if req.Role == "" {
		req.Role = teams.RoleMember
	}
	if err := s.teams.AddMembership(r.Context(), teamID, req.AccountID, req.Role); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, teams.Membership{TeamID: teamID, AccountID: req.AccountID, Role: req.Role})
}

// ListTeamMembers lists a team's memberships; only teammates may look
func (s *Server) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := uuidParam(w, r, "team")
	if !ok {
		return
	}
	if _, ok := s.teamMembership(w, r, teamID); !ok {
		return
	}
	list, err := s.teams.ListMemberships(r.Context(), teamID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []teams.Membership{}
	}
	httputil.WriteSuccess(w, list)
}

// RemoveTeamMember removes an account from a team
func (s *Server) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.authorizeTeamAdmin(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "account")
	if !ok {
		return
	}
	if err := s.teams.RemoveMembership(r.Context(), teamID, accountID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GrantTeamAccess lets a team's admins sync teammates into the project
func (s *Server) GrantTeamAccess(w http.ResponseWriter, r *http.Request) {
	projectID, teamID, ok := s.projectTeamParams(w, r)
	if !ok {
		return
	}
	team, err := s.teams.Get(r.Context(), teamID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if !team.Active {
		httputil.WriteError(w, r, apperr.Validation("api.grant_team_access", "team %s is inactive", teamID))
		return
	}
	if err := s.teams.GrantProjectAccess(r.Context(), projectID, teamID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, teams.ProjectAccess{ProjectID: projectID, TeamID: teamID})
}

// RevokeTeamAccess removes a team's reach into the project. Members it
// already synced stay until removed individually.
func (s *Server) RevokeTeamAccess(w http.ResponseWriter, r *http.Request) {
	projectID, teamID, ok := s.projectTeamParams(w, r)
	if !ok {
		return
	}
	if err := s.teams.RevokeProjectAccess(r.Context(), projectID, teamID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListProjectTeams lists the teams holding access to the project
func (s *Server) ListProjectTeams(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return
	}
	list, err := s.teams.ListProjectTeams(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []teams.Team{}
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) projectTeamParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	projectID, ok := projectParam(w, r)
	if !ok || !s.authorizeProject(w, r, projectID) {
		return uuid.Nil, uuid.Nil, false
	}
	teamID, ok := uuidParam(w, r, "team")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, teamID, true
}

// teamMembership returns the caller's membership in the team, writing 403
// when there is none. Superusers pass with a nil membership.
func (s *Server) teamMembership(w http.ResponseWriter, r *http.Request, teamID uuid.UUID) (*teams.Membership, bool) {
	id := caller(r)
	if id.Superuser {
		return nil, true
	}
	m, err := s.teams.GetMembership(r.Context(), teamID, id.AccountID)
	if apperr.IsNotFound(err) {
		httputil.WriteForbidden(w, "not a member of this team")
		return nil, false
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, false
	}
	return m, true
}

// authorizeTeamAdmin parses {team} and lets team admins and superusers through
func (s *Server) authorizeTeamAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	teamID, ok := uuidParam(w, r, "team")
	if !ok {
		return uuid.Nil, false
	}
	m, ok := s.teamMembership(w, r, teamID)
	if !ok {
		return uuid.Nil, false
	}
	if m != nil && m.Role != teams.RoleTeamAdmin {
		httputil.WriteForbidden(w, "only team admins can manage this team")
		return uuid.Nil, false
	}
	return teamID, true
}
