package rbac

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed templates/default.yaml
var defaultTemplatesYAML []byte

// RoleTemplate is a named grant bundle used to seed roles
type RoleTemplate = RoleInput

type templateFile struct {
	Templates []RoleTemplate `yaml:"templates"`
}

// ParseTemplates decodes a YAML template document. Unknown modules are
// rejected while decoding.
func ParseTemplates(data []byte) ([]RoleTemplate, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse role templates: %w", err)
	}
	for i, t := range f.Templates {
		normalized, err := validateRoleInput("rbac.parse_templates", t)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		f.Templates[i] = normalized
	}
	return f.Templates, nil
}

// DefaultTemplates returns the built-in templates
func DefaultTemplates() []RoleTemplate {
	templates, err := ParseTemplates(defaultTemplatesYAML)
	if err != nil {
		panic(err)
	}
	return templates
}

// LoadTemplates reads templates from path, or the built-in set when path is empty
func LoadTemplates(path string) ([]RoleTemplate, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role templates: %w", err)
	}
	return ParseTemplates(data)
}

// SeedTemplates creates one role per template for the owner account
func (r *Registry) SeedTemplates(ctx context.Context, ownerAccountID uuid.UUID, templates []RoleTemplate) ([]Role, error) {
	roles := make([]Role, 0, len(templates))
	for _, t := range templates {
		role, err := r.CreateRole(ctx, ownerAccountID, t)
		if err != nil {
			return roles, fmt.Errorf("failed to seed role %q: %w", t.Name, err)
		}
		roles = append(roles, *role)
	}

	r.logger.WithFields(logrus.Fields{
		"owner": ownerAccountID,
		"roles": len(roles),
	}).Info("seeded roles from templates")
	return roles, nil
}
