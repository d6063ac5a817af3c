package accessors

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
)

// Type classifies the person behind an accessor
type Type string

const (
	TypeEmployee      Type = "employee"
	TypeOwner         Type = "owner"
	TypeSubcontractor Type = "subcontractor"
	TypeOther         Type = "other"
)

// Valid reports whether t is a known accessor type
func (t Type) Valid() bool {
	switch t {
	case TypeEmployee, TypeOwner, TypeSubcontractor, TypeOther:
		return true
	}
	return false
}

// Accessor is a person eligible for project access, with or without a
// platform account
type Accessor struct {
	ID                  uuid.UUID  `json:"id"`
	OwnerAccountID      uuid.UUID  `json:"owner_account_id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Company             string     `json:"company"`
	Type                Type       `json:"type"`
	RegisteredAccountID *uuid.UUID `json:"registered_account_id,omitempty"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasAccount reports whether the accessor is linked to a platform account
func (a *Accessor) HasAccount() bool {
	return a.RegisteredAccountID != nil && *a.RegisteredAccountID != uuid.Nil
}

// Input carries the editable accessor fields
type Input struct {
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Company             string     `json:"company"`
	Type                Type       `json:"type"`
	RegisteredAccountID *uuid.UUID `json:"registered_account_id,omitempty"`
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in Input) normalize(op string) (Input, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)
	if in.Type == "" {
		in.Type = TypeOther
	}
	if !in.Type.Valid() {
		return in, apperr.Validation(op, "unknown accessor type %q", in.Type)
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return in, apperr.Validation(op, "invalid email %q", in.Email)
	}
	if in.Email == "" && in.Name == "" {
		return in, apperr.Validation(op, "accessor needs an email or a name")
	}
	return in, nil
}
