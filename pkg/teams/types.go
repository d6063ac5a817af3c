package teams

import (
	"time"

	"github.com/google/uuid"
)

// Role is an account's role within a team
type Role string

const (
	RoleMember    Role = "member"
	RoleTeamAdmin Role = "team_admin"
)

// Valid reports whether r is a known team role
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleTeamAdmin
}

// Team is a group of platform accounts
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership places a platform account in a team
type Membership struct {
	TeamID    uuid.UUID `json:"team_id"`
	AccountID uuid.UUID `json:"account_id"`
	Role      Role      `json:"role"`
}

// ProjectAccess grants a whole team implicit reach into a project
type ProjectAccess struct {
	ProjectID uuid.UUID `json:"project_id"`
	TeamID    uuid.UUID `json:"team_id"`
}
