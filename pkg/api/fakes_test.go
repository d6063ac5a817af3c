package api

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/resolver"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/platinummonkey/trellis/pkg/visibility"
)

type fakeVerifier struct {
	tokens map[string]*identity.Identity
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return nil, apperr.Authority("identity.verify", "invalid token")
}

type checkCall struct {
	id        *identity.Identity
	projectID uuid.UUID
	module    rbac.ModuleKey
	op        rbac.Operation
	inst      *resolver.Instance
}

type fakeChecker struct {
	decision resolver.Decision
	last     *checkCall
}

func (f *fakeChecker) CheckPermission(ctx context.Context, id *identity.Identity, projectID uuid.UUID, module rbac.ModuleKey, op rbac.Operation, inst *resolver.Instance) resolver.Decision {
	f.last = &checkCall{id: id, projectID: projectID, module: module, op: op, inst: inst}
	return f.decision
}

func (f *fakeChecker) ListEffectivePermissions(ctx context.Context, id *identity.Identity, projectID uuid.UUID) []resolver.ModulePermission {
	return []resolver.ModulePermission{{
		Module: rbac.ModuleTasks,
		Grant:  rbac.Grant{View: true},
		Reason: resolver.ReasonGranted,
	}}
}

type fakeProjects struct {
	owners map[uuid.UUID]uuid.UUID
}

func (f *fakeProjects) ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	owner, ok := f.owners[projectID]
	if !ok {
		return uuid.Nil, apperr.NotFound("rbac.project_owner", "project %s not found", projectID)
	}
	return owner, nil
}

type fakeRoles struct {
	roles     map[uuid.UUID]*rbac.Role
	available map[uuid.UUID][]uuid.UUID
	deleted   []uuid.UUID
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: map[uuid.UUID]*rbac.Role{}, available: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeRoles) CreateRole(ctx context.Context, owner uuid.UUID, in rbac.RoleInput) (*rbac.Role, error) {
	if in.Name == "" {
		return nil, apperr.Validation("rbac.create_role", "role name is required")
	}
	role := &rbac.Role{ID: uuid.New(), OwnerAccountID: owner, Name: in.Name, Active: true, Grants: in.Grants}
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeRoles) UpdateRole(ctx context.Context, id uuid.UUID, in rbac.RoleInput) (*rbac.Role, error) {
	role := f.roles[id]
	role.Name = in.Name
	role.Grants = in.Grants
	return role, nil
}

func (f *fakeRoles) DeleteRole(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRoles) GetRole(ctx context.Context, id uuid.UUID) (*rbac.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return nil, apperr.NotFound("rbac.get_role", "role %s not found", id)
	}
	return role, nil
}

func (f *fakeRoles) ListRoles(ctx context.Context, owner uuid.UUID) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, role := range f.roles {
		if role.OwnerAccountID == owner {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (f *fakeRoles) SetAvailableRoles(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) error {
	f.available[projectID] = ids
	return nil
}

func (f *fakeRoles) ListAvailableRoles(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return f.available[projectID], nil
}

func (f *fakeRoles) SeedTemplates(ctx context.Context, owner uuid.UUID, templates []rbac.RoleTemplate) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, t := range templates {
		role, _ := f.CreateRole(ctx, owner, t)
		out = append(out, *role)
	}
	return out, nil
}

type fakeModules struct {
	toggled map[rbac.ModuleKey]bool
}

func (f *fakeModules) ListModules(ctx context.Context) ([]rbac.Module, error) {
	return rbac.AllModules(), nil
}

func (f *fakeModules) SetActive(ctx context.Context, key rbac.ModuleKey, active bool) error {
	f.toggled[key] = active
	return nil
}

type fakeAccessors struct {
	rows map[uuid.UUID]*accessors.Accessor
}

func (f *fakeAccessors) Create(ctx context.Context, owner uuid.UUID, in accessors.Input) (*accessors.Accessor, error) {
	acc := &accessors.Accessor{ID: uuid.New(), OwnerAccountID: owner, Email: accessors.NormalizeEmail(in.Email), Name: in.Name, Active: true}
	f.rows[acc.ID] = acc
	return acc, nil
}

func (f *fakeAccessors) Update(ctx context.Context, id uuid.UUID, in accessors.Input) (*accessors.Accessor, error) {
	acc := f.rows[id]
	acc.Name = in.Name
	return acc, nil
}

func (f *fakeAccessors) Delete(ctx context.Context, id uuid.UUID) error {
	f.rows[id].Active = false
	return nil
}

func (f *fakeAccessors) Get(ctx context.Context, id uuid.UUID) (*accessors.Accessor, error) {
	acc, ok := f.rows[id]
	if !ok {
		return nil, apperr.NotFound("accessors.get", "accessor %s not found", id)
	}
	return acc, nil
}

func (f *fakeAccessors) List(ctx context.Context, owner uuid.UUID) ([]*accessors.Accessor, error) {
	var out []*accessors.Accessor
	for _, acc := range f.rows {
		if acc.OwnerAccountID == owner {
			out = append(out, acc)
		}
	}
	return out, nil
}

type fakeMembers struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*members.Member
	inviteErr error
	inviting  int
	maxInvite int
	accepted  *uuid.UUID
	syncReq   *members.SyncRequest
	removed   []uuid.UUID
}

func (f *fakeMembers) Get(ctx context.Context, id uuid.UUID) (*members.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, apperr.NotFound("members.get", "member %s not found", id)
	}
	return m, nil
}

func (f *fakeMembers) List(ctx context.Context, projectID uuid.UUID) ([]*members.Member, error) {
	var out []*members.Member
	for _, m := range f.rows {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMembers) Invitations(ctx context.Context, memberID uuid.UUID) ([]members.InvitationRecord, error) {
	return nil, nil
}

func (f *fakeMembers) AddMember(ctx context.Context, projectID, accessorID uuid.UUID, authority members.Authority) (*members.Member, error) {
	m := &members.Member{ID: uuid.New(), ProjectID: projectID, AccessorID: accessorID, Authority: authority, Status: members.StatusOpen}
	f.rows[m.ID] = m
	return m, nil
}

func (f *fakeMembers) SetAuthority(ctx context.Context, id uuid.UUID, authority members.Authority) (*members.Member, error) {
	m := f.rows[id]
	m.Authority = authority
	return m, nil
}

func (f *fakeMembers) Invite(ctx context.Context, id uuid.UUID) (*members.InviteResult, error) {
	f.mu.Lock()
	f.inviting++
	if f.inviting > f.maxInvite {
		f.maxInvite = f.inviting
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inviting--
		f.mu.Unlock()
	}()

	result := &members.InviteResult{Status: members.StatusInvited}
	if f.inviteErr != nil {
		return result, f.inviteErr
	}
	result.Delivered = true
	return result, nil
}

func (f *fakeMembers) Accept(ctx context.Context, id, accountID uuid.UUID) (*members.Member, error) {
	m := f.rows[id]
	m.Status = members.StatusActive
	m.AccountID = &accountID
	f.accepted = &accountID
	return m, nil
}

func (f *fakeMembers) SetInactive(ctx context.Context, id uuid.UUID) (*members.Member, error) {
	m := f.rows[id]
	if m.Status != members.StatusActive {
		return nil, apperr.Validation("members.set_inactive", "member %s is %s", id, m.Status)
	}
	m.Status = members.StatusInactive
	return m, nil
}

func (f *fakeMembers) Reactivate(ctx context.Context, id uuid.UUID) (*members.Member, error) {
	m := f.rows[id]
	m.Status = members.StatusActive
	return m, nil
}

func (f *fakeMembers) Remove(ctx context.Context, id uuid.UUID) error {
	f.removed = append(f.removed, id)
	delete(f.rows, id)
	return nil
}

func (f *fakeMembers) SyncTeam(ctx context.Context, req members.SyncRequest) (*members.SyncReport, error) {
	f.syncReq = &req
	report := &members.SyncReport{}
	for _, account := range req.AccountIDs {
		report.Added = append(report.Added, members.SyncEntry{AccountID: account})
	}
	return report, nil
}

type fakeVisibility struct {
	saved   []visibility.Entry
	updated map[rbac.ModuleKey]visibility.Visibility
	reset   []rbac.ModuleKey
}

func (f *fakeVisibility) Defaults(ctx context.Context, projectID uuid.UUID) ([]visibility.Default, error) {
	var out []visibility.Default
	for _, m := range rbac.AllModules() {
		v, ok := f.updated[m.Key]
		if !ok {
			v = visibility.AllParticipants
		}
		out = append(out, visibility.Default{ProjectID: projectID, Module: m.Key, Visibility: v, HasCustomDefault: ok})
	}
	return out, nil
}

func (f *fakeVisibility) UpdateDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey, v visibility.Visibility) (visibility.Default, error) {
	f.updated[module] = v
	return visibility.Default{ProjectID: projectID, Module: module, Visibility: v, HasCustomDefault: true}, nil
}

func (f *fakeVisibility) SaveAll(ctx context.Context, projectID uuid.UUID, entries []visibility.Entry) error {
	f.saved = entries
	for _, e := range entries {
		f.updated[e.Module] = e.Visibility
	}
	return nil
}

func (f *fakeVisibility) ResetDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey) error {
	f.reset = append(f.reset, module)
	delete(f.updated, module)
	return nil
}

type fakeTeams struct {
	rows        map[uuid.UUID]*teams.Team
	memberships map[uuid.UUID]map[uuid.UUID]teams.Role
	access      map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeTeams() *fakeTeams {
	return &fakeTeams{
		rows:        map[uuid.UUID]*teams.Team{},
		memberships: map[uuid.UUID]map[uuid.UUID]teams.Role{},
		access:      map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (f *fakeTeams) Create(ctx context.Context, name string) (*teams.Team, error) {
	if name == "" {
		return nil, apperr.Validation("teams.create", "team name is required")
	}
	team := &teams.Team{ID: uuid.New(), Name: name, Active: true}
	f.rows[team.ID] = team
	f.memberships[team.ID] = map[uuid.UUID]teams.Role{}
	return team, nil
}

func (f *fakeTeams) Get(ctx context.Context, id uuid.UUID) (*teams.Team, error) {
	team, ok := f.rows[id]
	if !ok {
		return nil, apperr.NotFound("teams.get", "team %s not found", id)
	}
	return team, nil
}

func (f *fakeTeams) List(ctx context.Context) ([]teams.Team, error) {
	var out []teams.Team
	for _, team := range f.rows {
		if team.Active {
			out = append(out, *team)
		}
	}
	return out, nil
}

func (f *fakeTeams) Deactivate(ctx context.Context, id uuid.UUID) error {
	team, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	team.Active = false
	return nil
}

func (f *fakeTeams) AddMembership(ctx context.Context, teamID, accountID uuid.UUID, role teams.Role) error {
	if !role.Valid() {
		return apperr.Validation("teams.add_membership", "unknown team role %q", role)
	}
	if f.memberships[teamID] == nil {
		f.memberships[teamID] = map[uuid.UUID]teams.Role{}
	}
	f.memberships[teamID][accountID] = role
	return nil
}

func (f *fakeTeams) RemoveMembership(ctx context.Context, teamID, accountID uuid.UUID) error {
	if _, ok := f.memberships[teamID][accountID]; !ok {
		return apperr.NotFound("teams.remove_membership", "account %s is not in team %s", accountID, teamID)
	}
	delete(f.memberships[teamID], accountID)
	return nil
}

func (f *fakeTeams) GetMembership(ctx context.Context, teamID, accountID uuid.UUID) (*teams.Membership, error) {
	role, ok := f.memberships[teamID][accountID]
	if !ok {
		return nil, apperr.NotFound("teams.get_membership", "account %s is not in team %s", accountID, teamID)
	}
	return &teams.Membership{TeamID: teamID, AccountID: accountID, Role: role}, nil
}

func (f *fakeTeams) ListMemberships(ctx context.Context, teamID uuid.UUID) ([]teams.Membership, error) {
	var out []teams.Membership
	for account, role := range f.memberships[teamID] {
		out = append(out, teams.Membership{TeamID: teamID, AccountID: account, Role: role})
	}
	return out, nil
}

func (f *fakeTeams) GrantProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error {
	if f.access[projectID] == nil {
		f.access[projectID] = map[uuid.UUID]bool{}
	}
	f.access[projectID][teamID] = true
	return nil
}

func (f *fakeTeams) RevokeProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error {
	if !f.access[projectID][teamID] {
		return apperr.NotFound("teams.revoke_project_access", "team %s has no access to project %s", teamID, projectID)
	}
	delete(f.access[projectID], teamID)
	return nil
}

func (f *fakeTeams) ListProjectTeams(ctx context.Context, projectID uuid.UUID) ([]teams.Team, error) {
	var out []teams.Team
	for teamID := range f.access[projectID] {
		if team := f.rows[teamID]; team != nil && team.Active {
			out = append(out, *team)
		}
	}
	return out, nil
}
