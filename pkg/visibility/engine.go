// Package visibility stores per-project content visibility defaults.
//
// Every active catalog module has a default. A module without an explicit
// row is AllParticipants. Writes are plain assignments: nothing is
// recomputed, the resolver reads the current value when it decides.
package visibility

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
	"github.com/sirupsen/logrus"
)

// ModuleLister returns the active module catalog
type ModuleLister interface {
	ListModules(ctx context.Context) ([]rbac.Module, error)
}

// Engine reads and writes visibility defaults
type Engine struct {
	db      *sql.DB
	modules ModuleLister
	logger  *logrus.Logger
}

// NewEngine creates a visibility engine
func NewEngine(db *sql.DB, modules ModuleLister, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{db: db, modules: modules, logger: logger}
}

const upsertSQL = `
	INSERT INTO content_visibility_defaults (project_id, module_key, visibility, has_custom_default, updated_at)
	VALUES ($1, $2, $3, TRUE, $4)
	ON CONFLICT (project_id, module_key)
	DO UPDATE SET visibility = excluded.visibility, has_custom_default = TRUE, updated_at = excluded.updated_at
`

// Defaults returns one entry per active module in display order
func (e *Engine) Defaults(ctx context.Context, projectID uuid.UUID) ([]Default, error) {
	const op = "visibility.defaults"

	modules, err := e.modules.ListModules(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT module_key, visibility, has_custom_default, updated_at
		FROM content_visibility_defaults
		WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list visibility defaults", err)
	}
	defer rows.Close()

	explicit := make(map[rbac.ModuleKey]Default)
	for rows.Next() {
		d := Default{ProjectID: projectID}
		var updatedAt time.Time
		if err := rows.Scan(&d.Module, &d.Visibility, &d.HasCustomDefault, &updatedAt); err != nil {
			return nil, apperr.Wrap(op, "failed to scan visibility default", err)
		}
		d.UpdatedAt = &updatedAt
		explicit[d.Module] = d
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, "failed to read visibility defaults", err)
	}

	out := make([]Default, 0, len(modules))
	for _, m := range modules {
		if d, ok := explicit[m.Key]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, implicitDefault(projectID, m.Key))
	}
	return out, nil
}

// Get returns the default of one module
func (e *Engine) Get(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey) (Default, error) {
	const op = "visibility.get"
	if !module.Valid() {
		return Default{}, apperr.Validation(op, "unknown module %q", module)
	}

	d := Default{ProjectID: projectID, Module: module}
	var updatedAt time.Time
	err := e.db.QueryRowContext(ctx, `
		SELECT visibility, has_custom_default, updated_at
		FROM content_visibility_defaults
		WHERE project_id = $1 AND module_key = $2
	`, projectID, module).Scan(&d.Visibility, &d.HasCustomDefault, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return implicitDefault(projectID, module), nil
	}
	if err != nil {
		return Default{}, apperr.Wrap(op, "failed to get visibility default", err)
	}
	d.UpdatedAt = &updatedAt
	return d, nil
}

// UpdateDefault assigns a module's visibility
func (e *Engine) UpdateDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey, v Visibility) (Default, error) {
	const op = "visibility.update_default"
	if err := validateEntry(op, Entry{Module: module, Visibility: v}); err != nil {
		return Default{}, err
	}

	now := time.Now().UTC()
	if _, err := e.db.ExecContext(ctx, upsertSQL, projectID, module, v, now); err != nil {
		return Default{}, apperr.Wrap(op, "failed to save visibility default", err)
	}

	e.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"module":     module,
		"visibility": v,
	}).Info("visibility default updated")
	return Default{ProjectID: projectID, Module: module, Visibility: v, HasCustomDefault: true, UpdatedAt: &now}, nil
}

// SaveAll writes several defaults in one transaction. Either every entry is
// stored or none is.
func (e *Engine) SaveAll(ctx context.Context, projectID uuid.UUID, entries []Entry) error {
	const op = "visibility.save_all"

	seen := make(map[rbac.ModuleKey]bool, len(entries))
	for _, entry := range entries {
		if err := validateEntry(op, entry); err != nil {
			return err
		}
		if seen[entry.Module] {
			return apperr.Validation(op, "module %s listed more than once", entry.Module)
		}
		seen[entry.Module] = true
	}

	now := time.Now().UTC()
	err := postgres.WithTx(ctx, e.db, op, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if _, err := tx.ExecContext(ctx, upsertSQL, projectID, entry.Module, entry.Visibility, now); err != nil {
				return apperr.Wrap(op, "failed to save visibility default for "+string(entry.Module), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"modules":    len(entries),
	}).Info("visibility defaults saved")
	return nil
}

// ResetDefault drops the explicit row so the module returns to AllParticipants
func (e *Engine) ResetDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey) error {
	const op = "visibility.reset_default"
	if !module.Valid() {
		return apperr.Validation(op, "unknown module %q", module)
	}
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM content_visibility_defaults WHERE project_id = $1 AND module_key = $2`,
		projectID, module); err != nil {
		return apperr.Wrap(op, "failed to reset visibility default", err)
	}
	return nil
}

func validateEntry(op string, entry Entry) error {
	if !entry.Module.Valid() {
		return apperr.Validation(op, "unknown module %q", entry.Module)
	}
	if !entry.Visibility.Valid() {
		return apperr.Validation(op, "unknown visibility %q for module %s", entry.Visibility, entry.Module)
	}
	return nil
}
