package members

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/notify"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/sirupsen/logrus"
)

// Repository persists members and invitation history. *Store implements it.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByAccessor(ctx context.Context, projectID, accessorID uuid.UUID) (*Member, error)
	FindForViewer(ctx context.Context, projectID, accountID uuid.UUID) (*Member, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*Member, error)
	Insert(ctx context.Context, m *Member) error
	ReplaceAuthority(ctx context.Context, id uuid.UUID, authority Authority) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error
	Delete(ctx context.Context, id uuid.UUID) error
	RecordInvitation(ctx context.Context, rec *InvitationRecord) error
	ListInvitations(ctx context.Context, memberID uuid.UUID) ([]InvitationRecord, error)
}

// RoleSource validates role assignments within a project
type RoleSource interface {
	AssignableRole(ctx context.Context, projectID, roleID uuid.UUID) (*rbac.Role, error)
}

// ProjectSource reads the external project entity
type ProjectSource interface {
	ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// AccessorSource is the part of the accessor directory the service uses
type AccessorSource interface {
	Get(ctx context.Context, id uuid.UUID) (*accessors.Accessor, error)
	Create(ctx context.Context, ownerAccountID uuid.UUID, in accessors.Input) (*accessors.Accessor, error)
	FindByEmail(ctx context.Context, ownerAccountID uuid.UUID, email string) (*accessors.Accessor, error)
	FindByRegisteredAccount(ctx context.Context, ownerAccountID, accountID uuid.UUID) (*accessors.Accessor, error)
	LinkAccount(ctx context.Context, id, accountID uuid.UUID) error
}

// TeamSource is the part of the team store used by team sync
type TeamSource interface {
	Get(ctx context.Context, id uuid.UUID) (*teams.Team, error)
	GetMembership(ctx context.Context, teamID, accountID uuid.UUID) (*teams.Membership, error)
	HasProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) (bool, error)
}

// AccountProfile is the platform profile used to create accessors during sync
type AccountProfile struct {
	Email   string
	Name    string
	Company string
}

// AccountDirectory looks up platform account profiles
type AccountDirectory interface {
	Profile(ctx context.Context, accountID uuid.UUID) (AccountProfile, error)
}

// Deps wires the membership service
type Deps struct {
	Store     Repository
	Roles     RoleSource
	Projects  ProjectSource
	Accessors AccessorSource
	Teams     TeamSource
	Accounts  AccountDirectory
	Notifier  notify.Notifier
	Metrics   *observability.Metrics
	Logger    *logrus.Logger
}

// Service drives the membership lifecycle
type Service struct {
	store     Repository
	roles     RoleSource
	projects  ProjectSource
	accessors AccessorSource
	teams     TeamSource
	accounts  AccountDirectory
	notifier  notify.Notifier
	metrics   *observability.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

// NewService creates the membership service
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Service{
		store:     deps.Store,
		roles:     deps.Roles,
		projects:  deps.Projects,
		accessors: deps.Accessors,
		teams:     deps.Teams,
		accounts:  deps.Accounts,
		notifier:  notifier,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// validateAuthority checks the authority can be assigned in the project and
// returns it with custom grants normalized
func (s *Service) validateAuthority(ctx context.Context, op string, projectID uuid.UUID, a Authority) (Authority, error) {
	switch a.Kind() {
	case AuthorityRole:
		roleID, _ := a.RoleID()
		if _, err := s.roles.AssignableRole(ctx, projectID, roleID); err != nil {
			return a, err
		}
		return a, nil
	case AuthorityCustom:
		grants, err := rbac.NormalizeGrants(op, a.Grants())
		if err != nil {
			return a, err
		}
		return CustomAuthority(grants), nil
	}
	return NoAuthority(), nil
}

// Get returns a member by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.store.Get(ctx, id)
}

// List returns the members of a project
func (s *Service) List(ctx context.Context, projectID uuid.UUID) ([]*Member, error) {
	return s.store.List(ctx, projectID)
}

// FindForViewer returns the member row an account resolves to in a project
func (s *Service) FindForViewer(ctx context.Context, projectID, accountID uuid.UUID) (*Member, error) {
	return s.store.FindForViewer(ctx, projectID, accountID)
}

// Invitations returns a member's invitation history
func (s *Service) Invitations(ctx context.Context, memberID uuid.UUID) ([]InvitationRecord, error) {
	return s.store.ListInvitations(ctx, memberID)
}

// AddMember adds an accessor to a project in the open state. The member must
// be invited before it gains any effective permission.
func (s *Service) AddMember(ctx context.Context, projectID, accessorID uuid.UUID, authority Authority) (*Member, error) {
	const op = "members.add"

	acc, err := s.accessors.Get(ctx, accessorID)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, apperr.Validation(op, "accessor %s has been deleted", accessorID)
	}

	if existing, err := s.store.GetByAccessor(ctx, projectID, accessorID); err == nil {
		return nil, apperr.Conflict(op, "accessor %s is already member %s of the project", accessorID, existing.ID)
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	authority, err = s.validateAuthority(ctx, op, projectID, authority)
	if err != nil {
		return nil, err
	}

	m := &Member{
		ProjectID:  projectID,
		AccessorID: accessorID,
		AccountID:  acc.RegisteredAccountID,
		Type:       acc.Type,
		Authority:  authority,
		Status:     StatusOpen,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"member_id":  m.ID,
		"project_id": projectID,
		"authority":  authority.Kind(),
	}).Info("project member added")
	return m, nil
}

// SetAuthority replaces the member's authority source
func (s *Service) SetAuthority(ctx context.Context, memberID uuid.UUID, authority Authority) (*Member, error) {
	const op = "members.set_authority"

	m, err := s.store.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	authority, err = s.validateAuthority(ctx, op, m.ProjectID, authority)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceAuthority(ctx, memberID, authority); err != nil {
		return nil, err
	}

	m.Authority = authority
	s.logger.WithFields(logrus.Fields{
		"member_id": memberID,
		"authority": authority.Kind(),
	}).Info("member authority replaced")
	return m, nil
}

// Invite moves an open member to invited and emits an invitation. Members
// already invited or active keep their status but the invitation is emitted
// again. Guards run before any write. A notifier failure is returned as a
// TransportError after the status change; callers retry by inviting again.
func (s *Service) Invite(ctx context.Context, memberID uuid.UUID) (*InviteResult, error) {
	const op = "members.invite"

	m, err := s.store.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	acc, err := s.accessors.Get(ctx, m.AccessorID)
	if err != nil {
		return nil, err
	}
	if acc.Email == "" {
		return nil, apperr.Validation(op, "accessor %s has no email address", acc.ID)
	}
	if m.Authority.IsEmpty() {
		return nil, apperr.Validation(op, "member %s has no role or granted permission", memberID)
	}

	switch m.Status {
	case StatusOpen:
		now := s.now()
		if err := s.store.UpdateStatus(ctx, memberID, StatusOpen, StatusInvited, StatusChange{InvitedAt: &now}); err != nil {
			return nil, err
		}
		m.Status = StatusInvited
	case StatusInvited, StatusActive:
	default:
		return nil, apperr.Validation(op, "member %s is %s and cannot be invited; reactivate instead", memberID, m.Status)
	}

	accountID := acc.RegisteredAccountID
	if !acc.HasAccount() {
		accountID = nil
	}
	res, sendErr := s.notifier.SendInvitation(ctx, notify.Invitation{
		ProjectID: m.ProjectID,
		MemberID:  m.ID,
		AccountID: accountID,
		Email:     acc.Email,
	})
	delivered := sendErr == nil && res.Success
	result := &InviteResult{
		Status:              m.Status,
		NotificationCreated: delivered && accountID != nil && res.NotificationCreated,
		Delivered:           delivered,
	}

	if err := s.store.RecordInvitation(ctx, &InvitationRecord{
		MemberID:            m.ID,
		ProjectID:           m.ProjectID,
		AccountID:           accountID,
		Email:               acc.Email,
		NotificationCreated: result.NotificationCreated,
		Delivered:           delivered,
		SentAt:              s.now(),
	}); err != nil {
		s.logger.WithError(err).WithField("member_id", m.ID).Error("failed to record invitation")
	}

	log := s.logger.WithFields(logrus.Fields{
		"member_id":            m.ID,
		"project_id":           m.ProjectID,
		"status":               m.Status,
		"notification_created": result.NotificationCreated,
	})

	if !delivered {
		s.metrics.ObserveInvitation("failed")
		if sendErr == nil {
			log.Warn("notifier reported invitation failure")
			return result, apperr.Transport(op, "notifier reported failure", nil)
		}
		log.WithError(sendErr).Warn("invitation delivery failed")
		return result, apperr.Transport(op, "failed to deliver invitation", sendErr)
	}

	if result.NotificationCreated {
		s.metrics.ObserveInvitation("notified")
	} else {
		s.metrics.ObserveInvitation("prepared")
	}
	log.Info("invitation emitted")
	return result, nil
}

// Accept activates an invited member for the account that accepted. An
// accessor without a linked account is linked to it.
func (s *Service) Accept(ctx context.Context, memberID, accountID uuid.UUID) (*Member, error) {
	const op = "members.accept"

	m, err := s.store.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusInvited {
		return nil, apperr.Validation(op, "member %s is %s, only invited members can accept", memberID, m.Status)
	}

	now := s.now()
	if err := s.store.UpdateStatus(ctx, memberID, StatusInvited, StatusActive, StatusChange{
		AcceptedAt: &now,
		AccountID:  &accountID,
	}); err != nil {
		return nil, err
	}
	m.Status = StatusActive
	m.AcceptedAt = &now
	m.AccountID = &accountID

	acc, err := s.accessors.Get(ctx, m.AccessorID)
	if err == nil && !acc.HasAccount() {
		if err := s.accessors.LinkAccount(ctx, acc.ID, accountID); err != nil {
			s.logger.WithError(err).WithField("accessor_id", acc.ID).Warn("failed to link accessor to account")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"member_id":  memberID,
		"account_id": accountID,
	}).Info("invitation accepted")
	return m, nil
}

// SetInactive suspends an active member. Authority rows are kept.
func (s *Service) SetInactive(ctx context.Context, memberID uuid.UUID) (*Member, error) {
	return s.toggle(ctx, "members.set_inactive", memberID, StatusActive, StatusInactive)
}

// Reactivate restores a suspended member
func (s *Service) Reactivate(ctx context.Context, memberID uuid.UUID) (*Member, error) {
	return s.toggle(ctx, "members.reactivate", memberID, StatusInactive, StatusActive)
}

func (s *Service) toggle(ctx context.Context, op string, memberID uuid.UUID, from, to Status) (*Member, error) {
	m, err := s.store.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Status != from || !CanTransition(from, to) {
		return nil, apperr.Validation(op, "member %s is %s, expected %s", memberID, m.Status, from)
	}
	if err := s.store.UpdateStatus(ctx, memberID, from, to, StatusChange{}); err != nil {
		return nil, err
	}
	m.Status = to

	s.logger.WithFields(logrus.Fields{
		"member_id": memberID,
		"from":      from,
		"to":        to,
	}).Info("member status changed")
	return m, nil
}

// Remove hard-deletes the member and its custom grants. This is irreversible.
func (s *Service) Remove(ctx context.Context, memberID uuid.UUID) error {
	if err := s.store.Delete(ctx, memberID); err != nil {
		return err
	}
	s.logger.WithField("member_id", memberID).Info("project member removed")
	return nil
}
