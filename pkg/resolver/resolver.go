// Package resolver decides whether a viewer may perform an operation on a
// project's content module, and whether a specific content instance is
// visible.
//
// Resolve is a pure function over a Snapshot of the facts it needs. A
// Checker loads snapshots from the stores and calls Resolve.
//
// The decision combines two layers with AND: the module-level CRUD grant of
// the viewer's effective authority, then for view requests the project's
// visibility scope for the module. Without an instance only owner_only
// narrows a view; with one, team_only compares owning teams as well. A member
// can hold view on a module and still see none of its instances.
package resolver

import (
	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/visibility"
)

// Reason explains a decision
type Reason string

const (
	ReasonProjectOwner        Reason = "project_owner"
	ReasonSuperuser           Reason = "superuser"
	ReasonGranted             Reason = "granted"
	ReasonNotMember           Reason = "not_a_member"
	ReasonMemberNotActive     Reason = "member_not_active"
	ReasonNotGranted          Reason = "operation_not_granted"
	ReasonOutsideTeamScope    Reason = "outside_team_scope"
	ReasonOwnerOnly           Reason = "owner_only"
	ReasonInvalidRequest      Reason = "invalid_request"
	ReasonSnapshotUnavailable Reason = "snapshot_unavailable"
)

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allowed: false, Reason: r} }

// Instance describes the content instance a view request targets
type Instance struct {
	OwnerTeamID         *uuid.UUID `json:"owner_team_id,omitempty"`
	OwnedByProjectOwner bool       `json:"owned_by_project_owner"`
}

// Viewer is the caller as reported by the identity provider
type Viewer struct {
	AccountID uuid.UUID
	Superuser bool
}

// Snapshot holds everything Resolve reads for one project and module.
// Member is nil when the viewer has no member row. Role is the role the
// member's authority points at, nil when missing.
type Snapshot struct {
	ProjectOwnerID uuid.UUID
	Viewer         Viewer
	Member         *members.Member
	Role           *rbac.Role
	Visibility     visibility.Visibility
}

// Request is one permission question
type Request struct {
	Module    rbac.ModuleKey
	Operation rbac.Operation
	Instance  *Instance
}

// Resolve decides a request. It reads nothing but its arguments.
func Resolve(s Snapshot, req Request) Decision {
	if !req.Module.Valid() || !validOperation(req.Operation) {
		return deny(ReasonInvalidRequest)
	}

	if s.ProjectOwnerID != uuid.Nil && s.Viewer.AccountID == s.ProjectOwnerID {
		return allow(ReasonProjectOwner)
	}
	if s.Viewer.Superuser {
		return allow(ReasonSuperuser)
	}

	if s.Member == nil {
		return deny(ReasonNotMember)
	}
	if s.Member.Status != members.StatusActive {
		return deny(ReasonMemberNotActive)
	}

	if !EffectiveGrant(s.Member, s.Role, req.Module).Allows(req.Operation) {
		return deny(ReasonNotGranted)
	}

	if req.Operation != rbac.OpView {
		return allow(ReasonGranted)
	}
	if req.Instance == nil {
		if s.Visibility == visibility.OwnerOnly {
			return deny(ReasonOwnerOnly)
		}
		return allow(ReasonGranted)
	}
	return scope(s.Visibility, s.Member, req.Instance)
}

// EffectiveGrant picks the single authority source of a member for a module.
// A role grant applies only while the role exists and is active; a custom set
// applies when no role is set. Anything else grants nothing.
func EffectiveGrant(m *members.Member, role *rbac.Role, module rbac.ModuleKey) rbac.Grant {
	if m == nil {
		return rbac.Grant{}
	}
	switch m.Authority.Kind() {
	case members.AuthorityRole:
		roleID, _ := m.Authority.RoleID()
		if role == nil || role.ID != roleID || !role.Active {
			return rbac.Grant{}
		}
		return rbac.GrantFor(role.Grants, module).Normalize()
	case members.AuthorityCustom:
		return rbac.GrantFor(m.Authority.Grants(), module).Normalize()
	}
	return rbac.Grant{}
}

func scope(v visibility.Visibility, m *members.Member, inst *Instance) Decision {
	switch v {
	case visibility.OwnerOnly:
		return deny(ReasonOwnerOnly)
	case visibility.TeamOnly:
		if inst.OwnedByProjectOwner {
			return allow(ReasonGranted)
		}
		if inst.OwnerTeamID != nil && m.TeamID != nil && *inst.OwnerTeamID == *m.TeamID {
			return allow(ReasonGranted)
		}
		return deny(ReasonOutsideTeamScope)
	}
	return allow(ReasonGranted)
}

func validOperation(op rbac.Operation) bool {
	for _, o := range rbac.Operations {
		if o == op {
			return true
		}
	}
	return false
}
