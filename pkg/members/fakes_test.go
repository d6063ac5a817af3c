package members

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/notify"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/sirupsen/logrus"
)

type memRepo struct {
	mu          sync.Mutex
	members     map[uuid.UUID]*Member
	invitations []InvitationRecord
	accessors   *fakeAccessors
	deleteErr   error
}

func newMemRepo(accs *fakeAccessors) *memRepo {
	return &memRepo{members: make(map[uuid.UUID]*Member), accessors: accs}
}

func (r *memRepo) copyOf(m *Member) *Member {
	out := *m
	return &out
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, apperr.NotFound("members.get", "project member not found")
	}
	return r.copyOf(m), nil
}

func (r *memRepo) GetByAccessor(ctx context.Context, projectID, accessorID uuid.UUID) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.ProjectID == projectID && m.AccessorID == accessorID {
			return r.copyOf(m), nil
		}
	}
	return nil, apperr.NotFound("members.get_by_accessor", "project member not found")
}

func (r *memRepo) FindForViewer(ctx context.Context, projectID, accountID uuid.UUID) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Member
	for _, m := range r.sorted() {
		if m.ProjectID != projectID {
			continue
		}
		match := m.AccountID != nil && *m.AccountID == accountID
		if !match && r.accessors != nil {
			if acc, ok := r.accessors.byID[m.AccessorID]; ok && acc.HasAccount() && *acc.RegisteredAccountID == accountID {
				match = true
			}
		}
		if !match {
			continue
		}
		if m.Status == StatusActive {
			return r.copyOf(m), nil
		}
		if found == nil {
			found = m
		}
	}
	if found == nil {
		return nil, apperr.NotFound("members.find_for_viewer", "project member not found")
	}
	return r.copyOf(found), nil
}

func (r *memRepo) sorted() []*Member {
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memRepo) List(ctx context.Context, projectID uuid.UUID) ([]*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Member
	for _, m := range r.sorted() {
		if m.ProjectID == projectID {
			out = append(out, r.copyOf(m))
		}
	}
	return out, nil
}

func (r *memRepo) Insert(ctx context.Context, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.members {
		if existing.ProjectID == m.ProjectID && existing.AccessorID == m.AccessorID {
			return apperr.Conflict("members.insert", "duplicate member")
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().Add(time.Duration(len(r.members)) * time.Millisecond)
	m.UpdatedAt = m.CreatedAt
	r.members[m.ID] = r.copyOf(m)
	return nil
}

func (r *memRepo) ReplaceAuthority(ctx context.Context, id uuid.UUID, authority Authority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return apperr.NotFound("members.replace_authority", "project member not found")
	}
	m.Authority = authority
	return nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return apperr.NotFound("members.update_status", "project member not found")
	}
	if m.Status != from {
		return apperr.Conflict("members.update_status", "member is %s", m.Status)
	}
	m.Status = to
	if change.InvitedAt != nil {
		m.InvitedAt = change.InvitedAt
	}
	if change.AcceptedAt != nil {
		m.AcceptedAt = change.AcceptedAt
	}
	if change.AccountID != nil {
		m.AccountID = change.AccountID
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.members[id]; !ok {
		return apperr.NotFound("members.delete", "project member not found")
	}
	delete(r.members, id)
	return nil
}

func (r *memRepo) RecordInvitation(ctx context.Context, rec *InvitationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = uuid.New()
	r.invitations = append(r.invitations, *rec)
	return nil
}

func (r *memRepo) ListInvitations(ctx context.Context, memberID uuid.UUID) ([]InvitationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InvitationRecord
	for _, rec := range r.invitations {
		if rec.MemberID == memberID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeRoles treats every listed role as assignable in every project
type fakeRoles struct {
	assignable map[uuid.UUID]bool
}

func (f *fakeRoles) AssignableRole(ctx context.Context, projectID, roleID uuid.UUID) (*rbac.Role, error) {
	if !f.assignable[roleID] {
		return nil, apperr.Validation("rbac.assignable_role", "role %s is not available on project %s", roleID, projectID)
	}
	return &rbac.Role{ID: roleID, Active: true}, nil
}

type fakeProjects struct {
	owner uuid.UUID
}

func (f *fakeProjects) ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	return f.owner, nil
}

type fakeAccessors struct {
	byID map[uuid.UUID]*accessors.Accessor
}

func newFakeAccessors() *fakeAccessors {
	return &fakeAccessors{byID: make(map[uuid.UUID]*accessors.Accessor)}
}

func (f *fakeAccessors) add(owner uuid.UUID, email string, account *uuid.UUID) *accessors.Accessor {
	acc := &accessors.Accessor{
		ID:                  uuid.New(),
		OwnerAccountID:      owner,
		Email:               email,
		Name:                email,
		Type:                accessors.TypeSubcontractor,
		RegisteredAccountID: account,
		Active:              true,
	}
	f.byID[acc.ID] = acc
	return acc
}

func (f *fakeAccessors) Get(ctx context.Context, id uuid.UUID) (*accessors.Accessor, error) {
	acc, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("accessors.get", "accessor not found")
	}
	out := *acc
	return &out, nil
}

func (f *fakeAccessors) Create(ctx context.Context, owner uuid.UUID, in accessors.Input) (*accessors.Accessor, error) {
	acc := &accessors.Accessor{
		ID:                  uuid.New(),
		OwnerAccountID:      owner,
		Email:               in.Email,
		Name:                in.Name,
		Company:             in.Company,
		Type:                in.Type,
		RegisteredAccountID: in.RegisteredAccountID,
		Active:              true,
	}
	f.byID[acc.ID] = acc
	out := *acc
	return &out, nil
}

func (f *fakeAccessors) FindByEmail(ctx context.Context, owner uuid.UUID, email string) (*accessors.Accessor, error) {
	for _, acc := range f.byID {
		if acc.OwnerAccountID == owner && acc.Active && acc.Email == accessors.NormalizeEmail(email) {
			out := *acc
			return &out, nil
		}
	}
	return nil, apperr.NotFound("accessors.find_by_email", "accessor not found")
}

func (f *fakeAccessors) FindByRegisteredAccount(ctx context.Context, owner, account uuid.UUID) (*accessors.Accessor, error) {
	for _, acc := range f.byID {
		if acc.OwnerAccountID == owner && acc.Active && acc.HasAccount() && *acc.RegisteredAccountID == account {
			out := *acc
			return &out, nil
		}
	}
	return nil, apperr.NotFound("accessors.find_by_registered_account", "accessor not found")
}

func (f *fakeAccessors) LinkAccount(ctx context.Context, id, account uuid.UUID) error {
	acc, ok := f.byID[id]
	if !ok {
		return apperr.NotFound("accessors.link_account", "accessor not found")
	}
	acc.RegisteredAccountID = &account
	return nil
}

type fakeTeams struct {
	teams       map[uuid.UUID]*teams.Team
	memberships map[uuid.UUID]map[uuid.UUID]teams.Role
	access      map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeTeams() *fakeTeams {
	return &fakeTeams{
		teams:       make(map[uuid.UUID]*teams.Team),
		memberships: make(map[uuid.UUID]map[uuid.UUID]teams.Role),
		access:      make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (f *fakeTeams) addTeam(active bool) uuid.UUID {
	id := uuid.New()
	f.teams[id] = &teams.Team{ID: id, Name: "Crew", Active: active}
	f.memberships[id] = make(map[uuid.UUID]teams.Role)
	return id
}

func (f *fakeTeams) Get(ctx context.Context, id uuid.UUID) (*teams.Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return nil, apperr.NotFound("teams.get", "team not found")
	}
	out := *t
	return &out, nil
}

func (f *fakeTeams) GetMembership(ctx context.Context, teamID, accountID uuid.UUID) (*teams.Membership, error) {
	role, ok := f.memberships[teamID][accountID]
	if !ok {
		return nil, apperr.NotFound("teams.get_membership", "membership not found")
	}
	return &teams.Membership{TeamID: teamID, AccountID: accountID, Role: role}, nil
}

func (f *fakeTeams) HasProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) (bool, error) {
	return f.access[projectID][teamID], nil
}

func (f *fakeTeams) grant(projectID, teamID uuid.UUID) {
	if f.access[projectID] == nil {
		f.access[projectID] = make(map[uuid.UUID]bool)
	}
	f.access[projectID][teamID] = true
}

type fakeAccounts struct {
	profiles map[uuid.UUID]AccountProfile
}

func (f *fakeAccounts) Profile(ctx context.Context, accountID uuid.UUID) (AccountProfile, error) {
	p, ok := f.profiles[accountID]
	if !ok {
		return AccountProfile{}, apperr.NotFound("accounts.profile", "account %s not found", accountID)
	}
	return p, nil
}

// fakeNotifier records every invitation. A nil result uses the LogNotifier
// rule: a notification exists only for registered accounts.
type fakeNotifier struct {
	sent   []notify.Invitation
	result *notify.Result
	err    error
}

func (f *fakeNotifier) SendInvitation(ctx context.Context, inv notify.Invitation) (notify.Result, error) {
	f.sent = append(f.sent, inv)
	if f.err != nil {
		return notify.Result{}, f.err
	}
	if f.result != nil {
		return *f.result, nil
	}
	return notify.Result{Success: true, NotificationCreated: inv.AccountID != nil}, nil
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	roles     *fakeRoles
	accessors *fakeAccessors
	teams     *fakeTeams
	accounts  *fakeAccounts
	notifier  *fakeNotifier
	owner     uuid.UUID
	project   uuid.UUID
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		roles:     &fakeRoles{assignable: make(map[uuid.UUID]bool)},
		accessors: newFakeAccessors(),
		teams:     newFakeTeams(),
		accounts:  &fakeAccounts{profiles: make(map[uuid.UUID]AccountProfile)},
		notifier:  &fakeNotifier{},
		owner:     uuid.New(),
		project:   uuid.New(),
	}
	f.repo = newMemRepo(f.accessors)
	f.svc = NewService(Deps{
		Store:     f.repo,
		Roles:     f.roles,
		Projects:  &fakeProjects{owner: f.owner},
		Accessors: f.accessors,
		Teams:     f.teams,
		Accounts:  f.accounts,
		Notifier:  f.notifier,
		Logger:    logger,
	})
	return f
}

func (f *fixture) role() uuid.UUID {
	id := uuid.New()
	f.roles.assignable[id] = true
	return id
}
