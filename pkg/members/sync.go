package members

import (
	"context"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/sirupsen/logrus"
)

// SyncRequest asks to bulk-add teammates to a project
type SyncRequest struct {
	ProjectID       uuid.UUID   `json:"project_id"`
	TeamID          uuid.UUID   `json:"team_id"`
	ActingAccountID uuid.UUID   `json:"acting_account_id"`
	Authority       Authority   `json:"authority"`
	AccountIDs      []uuid.UUID `json:"account_ids"`
}

// SyncEntry is the outcome for one account
type SyncEntry struct {
	AccountID uuid.UUID  `json:"account_id"`
	MemberID  *uuid.UUID `json:"member_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// SyncReport lists per-account outcomes. Sync is not atomic: accounts added
// before a failure stay added.
type SyncReport struct {
	Added   []SyncEntry `json:"added"`
	Skipped []SyncEntry `json:"skipped"`
	Failed  []SyncEntry `json:"failed"`
}

// SyncTeam adds the acting team admin's teammates to a project as active
// members, bypassing invitation. The team must hold access to the project,
// or the acting account must already be an active member of it.
func (s *Service) SyncTeam(ctx context.Context, req SyncRequest) (*SyncReport, error) {
	const op = "members.sync_team"

	team, err := s.teams.Get(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if !team.Active {
		return nil, apperr.Validation(op, "team %s is not active", req.TeamID)
	}

	acting, err := s.teams.GetMembership(ctx, req.TeamID, req.ActingAccountID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if acting == nil || acting.Role != teams.RoleTeamAdmin {
		return nil, apperr.Authority(op, "account %s is not an admin of team %s", req.ActingAccountID, req.TeamID)
	}

	if err := s.checkSyncReach(ctx, op, req); err != nil {
		return nil, err
	}

	authority, err := s.validateAuthority(ctx, op, req.ProjectID, req.Authority)
	if err != nil {
		return nil, err
	}

	owner, err := s.projects.ProjectOwner(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Added: []SyncEntry{}, Skipped: []SyncEntry{}, Failed: []SyncEntry{}}
	seen := make(map[uuid.UUID]bool, len(req.AccountIDs))
	for _, accountID := range req.AccountIDs {
		if seen[accountID] {
			continue
		}
		seen[accountID] = true

		entry := SyncEntry{AccountID: accountID}
		memberID, skipReason, err := s.syncAccount(ctx, req, owner, authority, accountID)
		switch {
		case err != nil:
			entry.Reason = err.Error()
			report.Failed = append(report.Failed, entry)
		case skipReason != "":
			entry.Reason = skipReason
			entry.MemberID = memberID
			report.Skipped = append(report.Skipped, entry)
		default:
			entry.MemberID = memberID
			report.Added = append(report.Added, entry)
		}
	}

	s.metrics.ObserveTeamSync("added", len(report.Added))
	s.metrics.ObserveTeamSync("skipped", len(report.Skipped))
	s.metrics.ObserveTeamSync("failed", len(report.Failed))

	s.logger.WithFields(logrus.Fields{
		"project_id": req.ProjectID,
		"team_id":    req.TeamID,
		"added":      len(report.Added),
		"skipped":    len(report.Skipped),
		"failed":     len(report.Failed),
	}).Info("team sync finished")
	return report, nil
}

func (s *Service) checkSyncReach(ctx context.Context, op string, req SyncRequest) error {
	ok, err := s.teams.HasProjectAccess(ctx, req.ProjectID, req.TeamID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	m, err := s.store.FindForViewer(ctx, req.ProjectID, req.ActingAccountID)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}
	if m != nil && m.Status == StatusActive {
		return nil
	}
	return apperr.Authority(op, "team %s has no access to project %s and account %s is not an active member",
		req.TeamID, req.ProjectID, req.ActingAccountID)
}

// syncAccount adds one account. It returns a skip reason when the account is
// not eligible or already a member.
func (s *Service) syncAccount(ctx context.Context, req SyncRequest, owner uuid.UUID, authority Authority, accountID uuid.UUID) (*uuid.UUID, string, error) {
	if _, err := s.teams.GetMembership(ctx, req.TeamID, accountID); err != nil {
		if apperr.IsNotFound(err) {
			return nil, "not a member of the team", nil
		}
		return nil, "", err
	}

	if existing, err := s.store.FindForViewer(ctx, req.ProjectID, accountID); err == nil {
		return &existing.ID, "already a project member", nil
	} else if !apperr.IsNotFound(err) {
		return nil, "", err
	}

	acc, skip, err := s.accessorForAccount(ctx, owner, accountID)
	if err != nil || skip != "" {
		return nil, skip, err
	}

	if existing, err := s.store.GetByAccessor(ctx, req.ProjectID, acc.ID); err == nil {
		return &existing.ID, "already a project member", nil
	} else if !apperr.IsNotFound(err) {
		return nil, "", err
	}

	now := s.now()
	teamID := req.TeamID
	acct := accountID
	m := &Member{
		ProjectID:  req.ProjectID,
		AccessorID: acc.ID,
		AccountID:  &acct,
		Type:       acc.Type,
		Authority:  authority,
		Status:     StatusActive,
		AcceptedAt: &now,
		TeamID:     &teamID,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, "", err
	}
	return &m.ID, "", nil
}

// accessorForAccount finds the owner's accessor for an account or creates it
// from the account profile. An unlinked accessor with the same email is
// linked instead of duplicated. An accessor with that email already linked to
// another account yields a skip reason, since emails are unique per owner.
func (s *Service) accessorForAccount(ctx context.Context, owner, accountID uuid.UUID) (*accessors.Accessor, string, error) {
	acc, err := s.accessors.FindByRegisteredAccount(ctx, owner, accountID)
	if err == nil {
		return acc, "", nil
	}
	if !apperr.IsNotFound(err) {
		return nil, "", err
	}

	if s.accounts == nil {
		return nil, "", apperr.Validation("members.sync_team", "no account directory to create accessor for %s", accountID)
	}
	profile, err := s.accounts.Profile(ctx, accountID)
	if err != nil {
		return nil, "", err
	}

	if profile.Email != "" {
		existing, err := s.accessors.FindByEmail(ctx, owner, profile.Email)
		switch {
		case err == nil && existing.HasAccount():
			return nil, "email belongs to another linked accessor", nil
		case err == nil:
			if err := s.accessors.LinkAccount(ctx, existing.ID, accountID); err != nil {
				return nil, "", err
			}
			existing.RegisteredAccountID = &accountID
			return existing, "", nil
		case !apperr.IsNotFound(err):
			return nil, "", err
		}
	}

	acc, err = s.accessors.Create(ctx, owner, accessors.Input{
		Email:               profile.Email,
		Name:                profile.Name,
		Company:             profile.Company,
		Type:                accessors.TypeEmployee,
		RegisteredAccountID: &accountID,
	})
	return acc, "", err
}
