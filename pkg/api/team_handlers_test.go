package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamHandlers(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/teams", ownerToken, createTeamRequest{Name: "Framing Crew"})
	require.Equal(t, http.StatusCreated, w.Code)
	team := decode[teams.Team](t, w)
	assert.Equal(t, "Framing Crew", team.Name)
	assert.Equal(t, teams.RoleTeamAdmin, ts.teams.memberships[team.ID][ts.owner.AccountID], "creator administers the team")

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/teams", ownerToken, createTeamRequest{}).Code)

	path := "/teams/" + team.ID.String()

	t.Run("read", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/teams", outsiderToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]teams.Team](t, w), 1)

		w = ts.do(t, http.MethodGet, path, outsiderToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, team.ID, decode[teams.Team](t, w).ID)

		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/teams/"+uuid.NewString(), ownerToken, nil).Code)
	})

	t.Run("members", func(t *testing.T) {
		add := addTeamMemberRequest{AccountID: ts.invitee.AccountID}
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, path+"/members", outsiderToken, add).Code)

		w := ts.do(t, http.MethodPost, path+"/members", ownerToken, add)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, teams.RoleMember, decode[teams.Membership](t, w).Role, "role defaults to member")

		w = ts.do(t, http.MethodPost, path+"/members", ownerToken, addTeamMemberRequest{AccountID: ts.outsider.AccountID, Role: "boss"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = ts.do(t, http.MethodPost, path+"/members", ownerToken, addTeamMemberRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = ts.do(t, http.MethodGet, path+"/members", inviteeToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]teams.Membership](t, w), 2)
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, path+"/members", outsiderToken, nil).Code)

		// plain members cannot manage the team
		w = ts.do(t, http.MethodPost, path+"/members", inviteeToken, addTeamMemberRequest{AccountID: ts.outsider.AccountID})
		assert.Equal(t, http.StatusForbidden, w.Code)

		member := path + "/members/" + ts.invitee.AccountID.String()
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, member, inviteeToken, nil).Code)
		assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, member, ownerToken, nil).Code)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, member, ownerToken, nil).Code)
	})

	t.Run("project access", func(t *testing.T) {
		access := "/projects/" + ts.projectID.String() + "/teams/" + team.ID.String()

		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPut, access, outsiderToken, nil).Code)

		w := ts.do(t, http.MethodPut, access, ownerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, ts.teams.access[ts.projectID][team.ID])

		w = ts.do(t, http.MethodGet, "/projects/"+ts.projectID.String()+"/teams", ownerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]teams.Team](t, w), 1)
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/projects/"+ts.projectID.String()+"/teams", outsiderToken, nil).Code)

		unknown := "/projects/" + ts.projectID.String() + "/teams/" + uuid.NewString()
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, unknown, superuserToken, nil).Code)

		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, access, outsiderToken, nil).Code)
		assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, access, superuserToken, nil).Code)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, access, ownerToken, nil).Code)
	})

	t.Run("deactivate", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, path, outsiderToken, nil).Code)
		assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, ownerToken, nil).Code)
		assert.False(t, ts.teams.rows[team.ID].Active)

		w := ts.do(t, http.MethodGet, "/teams", ownerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())

		access := "/projects/" + ts.projectID.String() + "/teams/" + team.ID.String()
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, access, ownerToken, nil).Code, "inactive teams get no access")
	})
}
