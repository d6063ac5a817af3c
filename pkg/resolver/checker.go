package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/visibility"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/platinummonkey/trellis/pkg/resolver"

// ProjectReader reads the external project entity
type ProjectReader interface {
	ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// MemberReader finds the viewer's member row
type MemberReader interface {
	FindForViewer(ctx context.Context, projectID, accountID uuid.UUID) (*members.Member, error)
}

// RoleReader loads a role with its grants, active or not
type RoleReader interface {
	GetRole(ctx context.Context, roleID uuid.UUID) (*rbac.Role, error)
}

// VisibilityReader reads visibility defaults
type VisibilityReader interface {
	Get(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey) (visibility.Default, error)
	Defaults(ctx context.Context, projectID uuid.UUID) ([]visibility.Default, error)
}

// ModuleLister returns the active module catalog
type ModuleLister interface {
	ListModules(ctx context.Context) ([]rbac.Module, error)
}

// Deps wires a Checker. Readers may point at a replica.
type Deps struct {
	Projects   ProjectReader
	Members    MemberReader
	Roles      RoleReader
	Visibility VisibilityReader
	Modules    ModuleLister
	Metrics    *observability.Metrics
	Logger     *logrus.Logger
	Tracer     trace.Tracer
}

// Checker answers permission questions against live data. Snapshot reads
// that fail are logged and turn into a deny.
type Checker struct {
	projects   ProjectReader
	members    MemberReader
	roles      RoleReader
	visibility VisibilityReader
	modules    ModuleLister
	metrics    *observability.Metrics
	logger     *logrus.Logger
	tracer     trace.Tracer
}

// NewChecker creates a permission checker
func NewChecker(deps Deps) *Checker {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Checker{
		projects:   deps.Projects,
		members:    deps.Members,
		roles:      deps.Roles,
		visibility: deps.Visibility,
		modules:    deps.Modules,
		metrics:    deps.Metrics,
		logger:     logger,
		tracer:     tracer,
	}
}

// ModulePermission is the effective permission of a viewer on one module
type ModulePermission struct {
	Module           rbac.ModuleKey        `json:"module_key"`
	Name             string                `json:"name"`
	Grant            rbac.Grant            `json:"grant"`
	Visibility       visibility.Visibility `json:"visibility"`
	MembershipStatus members.Status        `json:"membership_status,omitempty"`
	Reason           Reason                `json:"reason"`
}

// snapshotError names the store a snapshot read failed on
type snapshotError struct {
	source string
	err    error
}

func (e *snapshotError) Error() string { return e.source + ": " + e.err.Error() }
func (e *snapshotError) Unwrap() error { return e.err }

func viewerOf(id *identity.Identity) Viewer {
	if id == nil {
		return Viewer{}
	}
	return Viewer{AccountID: id.AccountID, Superuser: id.Superuser}
}

// CheckPermission decides whether the caller may perform op on module in the
// project. inst narrows a view check to one content instance.
func (c *Checker) CheckPermission(ctx context.Context, id *identity.Identity, projectID uuid.UUID, module rbac.ModuleKey, op rbac.Operation, inst *Instance) Decision {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "resolver.CheckPermission", trace.WithAttributes(
		attribute.String("project.id", projectID.String()),
		attribute.String("module", string(module)),
		attribute.String("operation", string(op)),
		attribute.Bool("instance", inst != nil),
	))
	defer span.End()

	req := Request{Module: module, Operation: op, Instance: inst}
	viewer := viewerOf(id)

	var decision Decision
	switch {
	case !module.Valid() || !validOperation(op):
		decision = Resolve(Snapshot{}, req)
	case viewer.Superuser:
		decision = Resolve(Snapshot{Viewer: viewer}, req)
	default:
		snap, err := c.load(ctx, viewer, projectID, module, op == rbac.OpView)
		if err != nil {
			c.degrade(span, projectID, err)
			decision = deny(ReasonSnapshotUnavailable)
		} else {
			decision = Resolve(snap, req)
		}
	}

	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("reason", string(decision.Reason)),
	)
	c.metrics.ObservePermissionCheck(string(module), string(op), decision.Allowed, time.Since(start))
	return decision
}

// ListEffectivePermissions returns the caller's effective grant on every
// active module of the project. When the snapshot cannot be read every
// module is reported with no grant.
func (c *Checker) ListEffectivePermissions(ctx context.Context, id *identity.Identity, projectID uuid.UUID) []ModulePermission {
	ctx, span := c.tracer.Start(ctx, "resolver.ListEffectivePermissions", trace.WithAttributes(
		attribute.String("project.id", projectID.String()),
	))
	defer span.End()

	viewer := viewerOf(id)
	modules, err := c.modules.ListModules(ctx)
	if err != nil {
		c.degrade(span, projectID, &snapshotError{source: "modules", err: err})
		return deniedModules(rbac.AllModules())
	}

	snap, defaults, err := c.loadAll(ctx, viewer, projectID)
	if err != nil {
		c.degrade(span, projectID, err)
		return deniedModules(modules)
	}

	out := make([]ModulePermission, 0, len(modules))
	for _, m := range modules {
		snap.Visibility = visibility.AllParticipants
		if v, ok := defaults[m.Key]; ok {
			snap.Visibility = v
		}
		perm := ModulePermission{
			Module:     m.Key,
			Name:       m.Name,
			Visibility: snap.Visibility,
		}
		if snap.Member != nil {
			perm.MembershipStatus = snap.Member.Status
		}
		for _, op := range rbac.Operations {
			d := Resolve(snap, Request{Module: m.Key, Operation: op})
			if op == rbac.OpView {
				perm.Reason = d.Reason
			}
			if !d.Allowed {
				continue
			}
			switch op {
			case rbac.OpView:
				perm.Grant.View = true
			case rbac.OpCreate:
				perm.Grant.Create = true
			case rbac.OpEdit:
				perm.Grant.Edit = true
			case rbac.OpDelete:
				perm.Grant.Delete = true
			}
		}
		out = append(out, perm)
	}
	return out
}

func deniedModules(modules []rbac.Module) []ModulePermission {
	out := make([]ModulePermission, 0, len(modules))
	for _, m := range modules {
		out = append(out, ModulePermission{
			Module:     m.Key,
			Name:       m.Name,
			Visibility: visibility.AllParticipants,
			Reason:     ReasonSnapshotUnavailable,
		})
	}
	return out
}

// load reads the snapshot for one module. Owner and member rows are read
// concurrently; the visibility default only for view requests.
func (c *Checker) load(ctx context.Context, viewer Viewer, projectID uuid.UUID, module rbac.ModuleKey, isView bool) (Snapshot, error) {
	snap := Snapshot{Viewer: viewer, Visibility: visibility.AllParticipants}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		owner, err := c.projects.ProjectOwner(gctx, projectID)
		if err != nil {
			return &snapshotError{source: "project", err: err}
		}
		snap.ProjectOwnerID = owner
		return nil
	})
	g.Go(func() error {
		m, role, err := c.loadMember(gctx, viewer, projectID)
		if err != nil {
			return err
		}
		snap.Member, snap.Role = m, role
		return nil
	})
	if isView {
		g.Go(func() error {
			d, err := c.visibility.Get(gctx, projectID, module)
			if err != nil {
				return &snapshotError{source: "visibility", err: err}
			}
			snap.Visibility = d.Visibility
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// loadAll reads the snapshot for every module of a project
func (c *Checker) loadAll(ctx context.Context, viewer Viewer, projectID uuid.UUID) (Snapshot, map[rbac.ModuleKey]visibility.Visibility, error) {
	snap := Snapshot{Viewer: viewer}
	defaults := make(map[rbac.ModuleKey]visibility.Visibility)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		owner, err := c.projects.ProjectOwner(gctx, projectID)
		if err != nil {
			return &snapshotError{source: "project", err: err}
		}
		snap.ProjectOwnerID = owner
		return nil
	})
	if !viewer.Superuser {
		g.Go(func() error {
			m, role, err := c.loadMember(gctx, viewer, projectID)
			if err != nil {
				return err
			}
			snap.Member, snap.Role = m, role
			return nil
		})
	}
	g.Go(func() error {
		ds, err := c.visibility.Defaults(gctx, projectID)
		if err != nil {
			return &snapshotError{source: "visibility", err: err}
		}
		for _, d := range ds {
			defaults[d.Module] = d.Visibility
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, nil, err
	}
	return snap, defaults, nil
}

// loadMember reads the viewer's member row and, for a role authority, the
// role. A missing member or role is not an error.
func (c *Checker) loadMember(ctx context.Context, viewer Viewer, projectID uuid.UUID) (*members.Member, *rbac.Role, error) {
	if viewer.AccountID == uuid.Nil {
		return nil, nil, nil
	}
	m, err := c.members.FindForViewer(ctx, projectID, viewer.AccountID)
	if apperr.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &snapshotError{source: "member", err: err}
	}

	roleID, ok := m.Authority.RoleID()
	if !ok || m.Status != members.StatusActive {
		return m, nil, nil
	}
	role, err := c.roles.GetRole(ctx, roleID)
	if apperr.IsNotFound(err) {
		return m, nil, nil
	}
	if err != nil {
		return nil, nil, &snapshotError{source: "role", err: err}
	}
	return m, role, nil
}

func (c *Checker) degrade(span trace.Span, projectID uuid.UUID, err error) {
	source := "unknown"
	var se *snapshotError
	if errors.As(err, &se) {
		source = se.source
	}
	c.metrics.ObserveSnapshotError(source)
	span.RecordError(err)
	span.SetStatus(codes.Error, "snapshot unavailable")
	c.logger.WithError(err).WithFields(logrus.Fields{
		"project_id": projectID,
		"source":     source,
	}).Warn("permission snapshot unavailable, denying")
}
