package visibility

import (
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/rbac"
)

// Visibility scopes which content instances a view-authorized member sees
type Visibility string

const (
	AllParticipants Visibility = "all_participants"
	TeamOnly        Visibility = "team_only"
	OwnerOnly       Visibility = "owner_only"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	switch v {
	case AllParticipants, TeamOnly, OwnerOnly:
		return true
	}
	return false
}

// ParseVisibility converts s to a Visibility
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(s)
	if !v.Valid() {
		return "", apperr.Validation("visibility.parse", "unknown visibility %q", s)
	}
	return v, nil
}

// Default is the visibility of one module within a project. HasCustomDefault
// is false when no explicit row exists and AllParticipants applies.
type Default struct {
	ProjectID        uuid.UUID      `json:"project_id"`
	Module           rbac.ModuleKey `json:"module_key"`
	Visibility       Visibility     `json:"visibility"`
	HasCustomDefault bool           `json:"has_custom_default"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
}

// Entry is one module setting in a SaveAll call
type Entry struct {
	Module     rbac.ModuleKey `json:"module_key"`
	Visibility Visibility     `json:"visibility"`
}

func implicitDefault(projectID uuid.UUID, module rbac.ModuleKey) Default {
	return Default{ProjectID: projectID, Module: module, Visibility: AllParticipants}
}
