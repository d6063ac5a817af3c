package accessors

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
	"github.com/sirupsen/logrus"
)

const accessorColumns = `id, owner_account_id, email, name, company, type, registered_account_id, active, created_at, updated_at`

// Directory stores accessors. Email uniqueness per owner is a
// check-then-insert and is not safe against concurrent writers.
type Directory struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewDirectory creates a new accessor directory
func NewDirectory(db *sql.DB, logger *logrus.Logger) *Directory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Directory{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessor(row rowScanner) (*Accessor, error) {
	var a Accessor
	var registered uuid.NullUUID
	if err := row.Scan(
		&a.ID, &a.OwnerAccountID, &a.Email, &a.Name, &a.Company, &a.Type,
		&registered, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if registered.Valid {
		id := registered.UUID
		a.RegisteredAccountID = &id
	}
	return &a, nil
}

// Create adds an accessor for the owner account
func (d *Directory) Create(ctx context.Context, ownerAccountID uuid.UUID, in Input) (*Accessor, error) {
	const op = "accessors.create"
	in, err := in.normalize(op)
	if err != nil {
		return nil, err
	}
	if err := d.checkEmailFree(ctx, op, ownerAccountID, in.Email, uuid.Nil); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Accessor{
		ID:                  uuid.New(),
		OwnerAccountID:      ownerAccountID,
		Email:               in.Email,
		Name:                in.Name,
		Company:             in.Company,
		Type:                in.Type,
		RegisteredAccountID: in.RegisteredAccountID,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO accessors (id, owner_account_id, email, name, company, type, registered_account_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
	`, a.ID, a.OwnerAccountID, a.Email, a.Name, a.Company, a.Type, a.RegisteredAccountID, now, now)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to create accessor", err)
	}

	d.logger.WithFields(logrus.Fields{
		"accessor_id": a.ID,
		"owner":       ownerAccountID,
		"linked":      a.HasAccount(),
	}).Info("accessor created")
	return a, nil
}

// Update replaces the editable fields of an active accessor
func (d *Directory) Update(ctx context.Context, id uuid.UUID, in Input) (*Accessor, error) {
	const op = "accessors.update"
	in, err := in.normalize(op)
	if err != nil {
		return nil, err
	}

	existing, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Active {
		return nil, apperr.NotFound(op, "accessor %s has been deleted", id)
	}
	if in.Email != existing.Email {
		if err := d.checkEmailFree(ctx, op, existing.OwnerAccountID, in.Email, id); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result, err := d.db.ExecContext(ctx, `
		UPDATE accessors
		SET email = $1, name = $2, company = $3, type = $4, registered_account_id = $5, updated_at = $6
		WHERE id = $7 AND active = true
	`, in.Email, in.Name, in.Company, in.Type, in.RegisteredAccountID, now, id)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to update accessor", err)
	}
	if err := postgres.CheckAffected(ctx, d.db, op, result, "accessors", id); err != nil {
		return nil, err
	}

	existing.Email = in.Email
	existing.Name = in.Name
	existing.Company = in.Company
	existing.Type = in.Type
	existing.RegisteredAccountID = in.RegisteredAccountID
	existing.UpdatedAt = now
	return existing, nil
}

// Delete soft-deletes an accessor. Project members referencing it remain.
func (d *Directory) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "accessors.delete"
	result, err := d.db.ExecContext(ctx,
		`UPDATE accessors SET active = false, updated_at = $1 WHERE id = $2 AND active = true`,
		time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(op, "failed to delete accessor", err)
	}
	if err := postgres.CheckAffected(ctx, d.db, op, result, "accessors", id); err != nil {
		return err
	}
	d.logger.WithField("accessor_id", id).Info("accessor deleted")
	return nil
}

// LinkAccount records the platform account an accessor signed up with
func (d *Directory) LinkAccount(ctx context.Context, id, accountID uuid.UUID) error {
	const op = "accessors.link_account"
	result, err := d.db.ExecContext(ctx,
		`UPDATE accessors SET registered_account_id = $1, updated_at = $2 WHERE id = $3 AND active = true`,
		accountID, time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(op, "failed to link account", err)
	}
	return postgres.CheckAffected(ctx, d.db, op, result, "accessors", id)
}

// Get returns an accessor by id, including soft-deleted ones
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Accessor, error) {
	const op = "accessors.get"
	a, err := scanAccessor(d.db.QueryRowContext(ctx,
		`SELECT `+accessorColumns+` FROM accessors WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "accessor %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get accessor", err)
	}
	return a, nil
}

// List returns the active accessors of an owner ordered by name
func (d *Directory) List(ctx context.Context, ownerAccountID uuid.UUID) ([]*Accessor, error) {
	const op = "accessors.list"
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+accessorColumns+`
		FROM accessors
		WHERE owner_account_id = $1 AND active = true
		ORDER BY name ASC, email ASC
	`, ownerAccountID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list accessors", err)
	}
	defer rows.Close()

	var out []*Accessor
	for rows.Next() {
		a, err := scanAccessor(rows)
		if err != nil {
			return nil, apperr.Wrap(op, "failed to scan accessor", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindByEmail returns the owner's active accessor with that email
func (d *Directory) FindByEmail(ctx context.Context, ownerAccountID uuid.UUID, email string) (*Accessor, error) {
	const op = "accessors.find_by_email"
	email = NormalizeEmail(email)
	a, err := scanAccessor(d.db.QueryRowContext(ctx, `
		SELECT `+accessorColumns+`
		FROM accessors
		WHERE owner_account_id = $1 AND email = $2 AND active = true
		ORDER BY created_at ASC
		LIMIT 1
	`, ownerAccountID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "no accessor with email %s", email)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to find accessor", err)
	}
	return a, nil
}

// FindByRegisteredAccount returns the owner's active accessor linked to accountID
func (d *Directory) FindByRegisteredAccount(ctx context.Context, ownerAccountID, accountID uuid.UUID) (*Accessor, error) {
	const op = "accessors.find_by_account"
	a, err := scanAccessor(d.db.QueryRowContext(ctx, `
		SELECT `+accessorColumns+`
		FROM accessors
		WHERE owner_account_id = $1 AND registered_account_id = $2 AND active = true
		ORDER BY created_at ASC
		LIMIT 1
	`, ownerAccountID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "no accessor linked to account %s", accountID)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to find accessor", err)
	}
	return a, nil
}

func (d *Directory) checkEmailFree(ctx context.Context, op string, ownerAccountID uuid.UUID, email string, self uuid.UUID) error {
	if email == "" {
		return nil
	}
	var exists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accessors
			WHERE owner_account_id = $1 AND email = $2 AND active = true AND id <> $3
		)
	`, ownerAccountID, email, self).Scan(&exists)
	if err != nil {
		return apperr.Wrap(op, "failed to check accessor email", err)
	}
	if exists {
		return apperr.Conflict(op, "an accessor with email %s already exists", email)
	}
	return nil
}
