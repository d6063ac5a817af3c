package members

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/rbac"
)

// Status is a project member's lifecycle state
type Status string

const (
	StatusOpen     Status = "open"
	StatusInvited  Status = "invited"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Statuses lists every lifecycle state
var Statuses = []Status{StatusOpen, StatusInvited, StatusActive, StatusInactive}

// transitions lists every legal status change. Removal is a hard delete and
// is allowed from any state, so it is not a status.
var transitions = map[Status][]Status{
	StatusOpen:     {StatusInvited},
	StatusInvited:  {StatusActive},
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusActive},
}

// CanTransition reports whether a member may move from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AuthorityKind tags the source of a member's authority
type AuthorityKind string

const (
	AuthorityNone   AuthorityKind = "none"
	AuthorityRole   AuthorityKind = "role"
	AuthorityCustom AuthorityKind = "custom"
)

// Authority is where a member's grants come from: nothing, a role, or a
// custom grant set. Exactly one source exists at a time.
type Authority struct {
	kind   AuthorityKind
	roleID uuid.UUID
	grants []rbac.ModuleGrant
}

// NoAuthority grants nothing
func NoAuthority() Authority {
	return Authority{kind: AuthorityNone}
}

// RoleAuthority takes grants from a role
func RoleAuthority(roleID uuid.UUID) Authority {
	if roleID == uuid.Nil {
		return NoAuthority()
	}
	return Authority{kind: AuthorityRole, roleID: roleID}
}

// CustomAuthority uses member-specific grants. An empty set is NoAuthority.
func CustomAuthority(grants []rbac.ModuleGrant) Authority {
	if len(grants) == 0 {
		return NoAuthority()
	}
	return Authority{kind: AuthorityCustom, grants: append([]rbac.ModuleGrant(nil), grants...)}
}

// Kind returns the authority source
func (a Authority) Kind() AuthorityKind {
	if a.kind == "" {
		return AuthorityNone
	}
	return a.kind
}

// RoleID returns the role id for a role authority
func (a Authority) RoleID() (uuid.UUID, bool) {
	return a.roleID, a.kind == AuthorityRole
}

// Grants returns a copy of the custom grants
func (a Authority) Grants() []rbac.ModuleGrant {
	return append([]rbac.ModuleGrant(nil), a.grants...)
}

// IsEmpty reports whether the authority could never grant anything: no
// source, or a custom set without a single flag set.
func (a Authority) IsEmpty() bool {
	switch a.Kind() {
	case AuthorityRole:
		return false
	case AuthorityCustom:
		return !rbac.AnyGranted(a.grants)
	}
	return true
}

type authorityJSON struct {
	Kind   AuthorityKind      `json:"kind"`
	RoleID *uuid.UUID         `json:"role_id,omitempty"`
	Grants []rbac.ModuleGrant `json:"grants,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (a Authority) MarshalJSON() ([]byte, error) {
	out := authorityJSON{Kind: a.Kind()}
	switch a.Kind() {
	case AuthorityRole:
		id := a.roleID
		out.RoleID = &id
	case AuthorityCustom:
		out.Grants = a.grants
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Authority) UnmarshalJSON(data []byte) error {
	var in authorityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case AuthorityNone, "":
		*a = NoAuthority()
	case AuthorityRole:
		if in.RoleID == nil {
			return fmt.Errorf("role authority requires role_id")
		}
		*a = RoleAuthority(*in.RoleID)
	case AuthorityCustom:
		*a = CustomAuthority(in.Grants)
	default:
		return fmt.Errorf("unknown authority kind %q", in.Kind)
	}
	return nil
}

// Member links an accessor to a project with an authority and a status
type Member struct {
	ID         uuid.UUID      `json:"id"`
	ProjectID  uuid.UUID      `json:"project_id"`
	AccessorID uuid.UUID      `json:"accessor_id"`
	AccountID  *uuid.UUID     `json:"account_id,omitempty"`
	Type       accessors.Type `json:"type"`
	Authority  Authority      `json:"authority"`
	Status     Status         `json:"status"`
	InvitedAt  *time.Time     `json:"invited_at,omitempty"`
	AcceptedAt *time.Time     `json:"accepted_at,omitempty"`
	TeamID     *uuid.UUID     `json:"team_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// InviteResult reports the outcome of an invite. NotificationCreated
// distinguishes an in-product notification from an invitation that was only
// prepared for someone without an account.
type InviteResult struct {
	Status              Status `json:"status"`
	NotificationCreated bool   `json:"notification_created"`
	Delivered           bool   `json:"delivered"`
}

// InvitationRecord is a stored invitation emission
type InvitationRecord struct {
	ID                  uuid.UUID  `json:"id"`
	MemberID            uuid.UUID  `json:"member_id"`
	ProjectID           uuid.UUID  `json:"project_id"`
	AccountID           *uuid.UUID `json:"account_id,omitempty"`
	Email               string     `json:"email"`
	NotificationCreated bool       `json:"notification_created"`
	Delivered           bool       `json:"delivered"`
	SentAt              time.Time  `json:"sent_at"`
}
