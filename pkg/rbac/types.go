package rbac

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
)

// ModuleKey identifies a permissionable content domain. The set is closed:
// values outside AllModules never pass ParseModuleKey or decoding.
type ModuleKey string

const (
	ModuleTasks        ModuleKey = "tasks"
	ModuleDocuments    ModuleKey = "documents"
	ModuleDrawings     ModuleKey = "drawings"
	ModulePhotos       ModuleKey = "photos"
	ModuleRFIs         ModuleKey = "rfis"
	ModuleSubmittals   ModuleKey = "submittals"
	ModuleDailyLogs    ModuleKey = "daily_logs"
	ModulePunchList    ModuleKey = "punch_list"
	ModuleSchedule     ModuleKey = "schedule"
	ModuleMeetings     ModuleKey = "meetings"
	ModuleBudget       ModuleKey = "budget"
	ModuleChangeOrders ModuleKey = "change_orders"
)

// Module is a row of the permission module catalog
type Module struct {
	Key          ModuleKey `json:"module_key"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
	Active       bool      `json:"active"`
}

// builtinModules is the seed for permission_modules, in display order
var builtinModules = []Module{
	{Key: ModuleTasks, Name: "Tasks", DisplayOrder: 10, Active: true},
	{Key: ModuleDocuments, Name: "Documents", DisplayOrder: 20, Active: true},
	{Key: ModuleDrawings, Name: "Drawings", DisplayOrder: 30, Active: true},
	{Key: ModulePhotos, Name: "Photos", DisplayOrder: 40, Active: true},
	{Key: ModuleRFIs, Name: "RFIs", DisplayOrder: 50, Active: true},
	{Key: ModuleSubmittals, Name: "Submittals", DisplayOrder: 60, Active: true},
	{Key: ModuleDailyLogs, Name: "Daily Logs", DisplayOrder: 70, Active: true},
	{Key: ModulePunchList, Name: "Punch List", DisplayOrder: 80, Active: true},
	{Key: ModuleSchedule, Name: "Schedule", DisplayOrder: 90, Active: true},
	{Key: ModuleMeetings, Name: "Meetings", DisplayOrder: 100, Active: true},
	{Key: ModuleBudget, Name: "Budget", DisplayOrder: 110, Active: true},
	{Key: ModuleChangeOrders, Name: "Change Orders", DisplayOrder: 120, Active: true},
}

// AllModules returns every module in the closed catalog
func AllModules() []Module {
	out := make([]Module, len(builtinModules))
	copy(out, builtinModules)
	return out
}

// Valid reports whether k belongs to the catalog
func (k ModuleKey) Valid() bool {
	for _, m := range builtinModules {
		if m.Key == k {
			return true
		}
	}
	return false
}

// ParseModuleKey converts a raw key, rejecting anything outside the catalog
func ParseModuleKey(s string) (ModuleKey, error) {
	k := ModuleKey(s)
	if !k.Valid() {
		return "", apperr.Validation("rbac.parse_module", "unknown module %q", s)
	}
	return k, nil
}

// UnmarshalText applies ParseModuleKey to JSON and YAML input
func (k *ModuleKey) UnmarshalText(text []byte) error {
	parsed, err := ParseModuleKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Scan implements sql.Scanner
func (k *ModuleKey) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ModuleKey", src)
	}
	return k.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer
func (k ModuleKey) Value() (driver.Value, error) {
	return string(k), nil
}

// Operation is a CRUD operation on a module
type Operation string

const (
	OpView   Operation = "view"
	OpCreate Operation = "create"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

// Operations lists every operation in check order
var Operations = []Operation{OpView, OpCreate, OpEdit, OpDelete}

// ParseOperation converts a raw operation name
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpView, OpCreate, OpEdit, OpDelete:
		return op, nil
	}
	return "", apperr.Validation("rbac.parse_operation", "unknown operation %q", s)
}

// Grant is the CRUD flag set for one module
type Grant struct {
	View   bool `json:"view" yaml:"view"`
	Create bool `json:"create" yaml:"create"`
	Edit   bool `json:"edit" yaml:"edit"`
	Delete bool `json:"delete" yaml:"delete"`
}

// FullGrant allows every operation
var FullGrant = Grant{View: true, Create: true, Edit: true, Delete: true}

// Normalize enforces create, edit or delete implying view
func (g Grant) Normalize() Grant {
	if g.Create || g.Edit || g.Delete {
		g.View = true
	}
	return g
}

// Allows reports whether op is granted
func (g Grant) Allows(op Operation) bool {
	switch op {
	case OpView:
		return g.View
	case OpCreate:
		return g.Create
	case OpEdit:
		return g.Edit
	case OpDelete:
		return g.Delete
	}
	return false
}

// IsEmpty reports whether no flag is set
func (g Grant) IsEmpty() bool {
	return !g.View && !g.Create && !g.Edit && !g.Delete
}

// ModuleGrant binds a Grant to a module
type ModuleGrant struct {
	Module ModuleKey `json:"module" yaml:"module"`
	Grant  `yaml:",inline"`
}

// NormalizeGrants validates module keys, rejects duplicates and normalizes
// every grant. The input order is preserved.
func NormalizeGrants(op string, grants []ModuleGrant) ([]ModuleGrant, error) {
	seen := make(map[ModuleKey]bool, len(grants))
	out := make([]ModuleGrant, 0, len(grants))
	for _, g := range grants {
		if !g.Module.Valid() {
			return nil, apperr.Validation(op, "unknown module %q", g.Module)
		}
		if seen[g.Module] {
			return nil, apperr.Validation(op, "module %q granted more than once", g.Module)
		}
		seen[g.Module] = true
		out = append(out, ModuleGrant{Module: g.Module, Grant: g.Grant.Normalize()})
	}
	return out, nil
}

// GrantFor returns the grant for module, or the zero Grant
func GrantFor(grants []ModuleGrant, module ModuleKey) Grant {
	for _, g := range grants {
		if g.Module == module {
			return g.Grant
		}
	}
	return Grant{}
}

// AnyGranted reports whether at least one flag is set across grants
func AnyGranted(grants []ModuleGrant) bool {
	for _, g := range grants {
		if !g.IsEmpty() {
			return true
		}
	}
	return false
}

// Role is a named, reusable bundle of per-module grants owned by an account
type Role struct {
	ID             uuid.UUID     `json:"id"`
	OwnerAccountID uuid.UUID     `json:"owner_account_id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Active         bool          `json:"active"`
	Grants         []ModuleGrant `json:"grants"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// RoleInput carries the editable fields of a role
type RoleInput struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Grants      []ModuleGrant `json:"grants" yaml:"grants"`
}
