package api

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/locks"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/middleware"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/resolver"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/platinummonkey/trellis/pkg/visibility"
	"github.com/prometheus/client_golang/prometheus"
)

// PermissionChecker answers permission questions for the caller
type PermissionChecker interface {
	CheckPermission(ctx context.Context, id *identity.Identity, projectID uuid.UUID, module rbac.ModuleKey, op rbac.Operation, inst *resolver.Instance) resolver.Decision
	ListEffectivePermissions(ctx context.Context, id *identity.Identity, projectID uuid.UUID) []resolver.ModulePermission
}

// ProjectReader resolves project ownership
type ProjectReader interface {
	ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// RoleRegistry manages roles and project role whitelists
type RoleRegistry interface {
	CreateRole(ctx context.Context, ownerAccountID uuid.UUID, in rbac.RoleInput) (*rbac.Role, error)
	UpdateRole(ctx context.Context, roleID uuid.UUID, in rbac.RoleInput) (*rbac.Role, error)
	DeleteRole(ctx context.Context, roleID uuid.UUID) error
	GetRole(ctx context.Context, roleID uuid.UUID) (*rbac.Role, error)
	ListRoles(ctx context.Context, ownerAccountID uuid.UUID) ([]rbac.Role, error)
	SetAvailableRoles(ctx context.Context, projectID uuid.UUID, roleIDs []uuid.UUID) error
	ListAvailableRoles(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	SeedTemplates(ctx context.Context, ownerAccountID uuid.UUID, templates []rbac.RoleTemplate) ([]rbac.Role, error)
}

// ModuleCatalog lists and toggles permission modules
type ModuleCatalog interface {
	ListModules(ctx context.Context) ([]rbac.Module, error)
	SetActive(ctx context.Context, key rbac.ModuleKey, active bool) error
}

// AccessorDirectory manages the people an account can add to projects
type AccessorDirectory interface {
	Create(ctx context.Context, ownerAccountID uuid.UUID, in accessors.Input) (*accessors.Accessor, error)
	Update(ctx context.Context, id uuid.UUID, in accessors.Input) (*accessors.Accessor, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*accessors.Accessor, error)
	List(ctx context.Context, ownerAccountID uuid.UUID) ([]*accessors.Accessor, error)
}

// MemberService runs the membership lifecycle
type MemberService interface {
	Get(ctx context.Context, id uuid.UUID) (*members.Member, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*members.Member, error)
	Invitations(ctx context.Context, memberID uuid.UUID) ([]members.InvitationRecord, error)
	AddMember(ctx context.Context, projectID, accessorID uuid.UUID, authority members.Authority) (*members.Member, error)
	SetAuthority(ctx context.Context, memberID uuid.UUID, authority members.Authority) (*members.Member, error)
	Invite(ctx context.Context, memberID uuid.UUID) (*members.InviteResult, error)
	Accept(ctx context.Context, memberID, accountID uuid.UUID) (*members.Member, error)
	SetInactive(ctx context.Context, memberID uuid.UUID) (*members.Member, error)
	Reactivate(ctx context.Context, memberID uuid.UUID) (*members.Member, error)
	Remove(ctx context.Context, memberID uuid.UUID) error
	SyncTeam(ctx context.Context, req members.SyncRequest) (*members.SyncReport, error)
}

// TeamDirectory manages teams, their memberships and their project access
type TeamDirectory interface {
	Create(ctx context.Context, name string) (*teams.Team, error)
	Get(ctx context.Context, id uuid.UUID) (*teams.Team, error)
	List(ctx context.Context) ([]teams.Team, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	AddMembership(ctx context.Context, teamID, accountID uuid.UUID, role teams.Role) error
	RemoveMembership(ctx context.Context, teamID, accountID uuid.UUID) error
	GetMembership(ctx context.Context, teamID, accountID uuid.UUID) (*teams.Membership, error)
	ListMemberships(ctx context.Context, teamID uuid.UUID) ([]teams.Membership, error)
	GrantProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error
	RevokeProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error
	ListProjectTeams(ctx context.Context, projectID uuid.UUID) ([]teams.Team, error)
}

// VisibilityEngine manages per-project content visibility defaults
type VisibilityEngine interface {
	Defaults(ctx context.Context, projectID uuid.UUID) ([]visibility.Default, error)
	UpdateDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey, v visibility.Visibility) (visibility.Default, error)
	SaveAll(ctx context.Context, projectID uuid.UUID, entries []visibility.Entry) error
	ResetDefault(ctx context.Context, projectID uuid.UUID, module rbac.ModuleKey) error
}

// Deps wires the server. Registry and Health are optional.
type Deps struct {
	Checker    PermissionChecker
	Projects   ProjectReader
	Roles      RoleRegistry
	Modules    ModuleCatalog
	Accessors  AccessorDirectory
	Members    MemberService
	Teams      TeamDirectory
	Visibility VisibilityEngine
	Locker     locks.Locker
	Verifier   identity.Verifier
	Templates  []rbac.RoleTemplate

	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Health       *observability.HealthChecker
	MaxBodyBytes int64
}

// Server exposes the membership and permission core over HTTP
type Server struct {
	checker    PermissionChecker
	projects   ProjectReader
	roles      RoleRegistry
	modules    ModuleCatalog
	accessors  AccessorDirectory
	members    MemberService
	teams      TeamDirectory
	visibility VisibilityEngine
	locker     locks.Locker
	templates  []rbac.RoleTemplate

	logger *observability.Logger
	router *mux.Router
}

// NewServer creates the server and registers its routes
func NewServer(deps Deps) *Server {
	s := &Server{
		checker:    deps.Checker,
		projects:   deps.Projects,
		roles:      deps.Roles,
		modules:    deps.Modules,
		accessors:  deps.Accessors,
		members:    deps.Members,
		teams:      deps.Teams,
		visibility: deps.Visibility,
		locker:     deps.Locker,
		templates:  deps.Templates,
		logger:     deps.Logger,
		router:     mux.NewRouter(),
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if s.locker == nil {
		s.locker = locks.NewLocalLocker(0)
	}
	if s.templates == nil {
		s.templates = rbac.DefaultTemplates()
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s.router.Use(
		observability.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
	)
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics, routeTemplate))
	}
	s.router.Use(httputil.MaxBytesMiddleware(maxBody))

	if deps.Health != nil {
		s.router.HandleFunc("/healthz", deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", deps.Health.Readiness).Methods(http.MethodGet)
	}
	if deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Registry)).Methods(http.MethodGet)
	}

	authed := s.router.NewRoute().Subrouter()
	authed.Use(middleware.NewIdentityMiddleware(deps.Verifier, s.logger).Handler)
	s.registerRoutes(authed)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) registerRoutes(r *mux.Router) {
	// Permissions
	r.HandleFunc("/projects/{project}/permissions/check", s.CheckPermission).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/permissions", s.ListEffectivePermissions).Methods(http.MethodGet)

	// Modules
	r.HandleFunc("/modules", s.ListModules).Methods(http.MethodGet)
	r.Handle("/modules/{module}", middleware.RequireSuperuser(http.HandlerFunc(s.SetModuleActive))).Methods(http.MethodPut)

	// Roles
	r.HandleFunc("/roles", s.CreateRole).Methods(http.MethodPost)
	r.HandleFunc("/roles", s.ListRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles/templates", s.SeedRoleTemplates).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id}", s.GetRole).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id}", s.UpdateRole).Methods(http.MethodPut)
	r.HandleFunc("/roles/{id}", s.DeleteRole).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project}/roles", s.SetProjectRoles).Methods(http.MethodPut)
	r.HandleFunc("/projects/{project}/roles", s.ListProjectRoles).Methods(http.MethodGet)

	// Accessors
	r.HandleFunc("/accessors", s.CreateAccessor).Methods(http.MethodPost)
	r.HandleFunc("/accessors", s.ListAccessors).Methods(http.MethodGet)
	r.HandleFunc("/accessors/{id}", s.GetAccessor).Methods(http.MethodGet)
	r.HandleFunc("/accessors/{id}", s.UpdateAccessor).Methods(http.MethodPut)
	r.HandleFunc("/accessors/{id}", s.DeleteAccessor).Methods(http.MethodDelete)

	// Members
	r.HandleFunc("/projects/{project}/members", s.AddMember).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/members", s.ListMembers).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}", s.GetMember).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}", s.RemoveMember).Methods(http.MethodDelete)
	r.HandleFunc("/members/{id}/authority", s.SetAuthority).Methods(http.MethodPut)
	r.HandleFunc("/members/{id}/invite", s.InviteMember).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/invitations", s.ListInvitations).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/accept", s.AcceptInvitation).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/deactivate", s.DeactivateMember).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/reactivate", s.ReactivateMember).Methods(http.MethodPost)

	// Teams
	r.HandleFunc("/teams", s.CreateTeam).Methods(http.MethodPost)
	r.HandleFunc("/teams", s.ListTeams).Methods(http.MethodGet)
	r.HandleFunc("/teams/{team}", s.GetTeam).Methods(http.MethodGet)
	r.HandleFunc("/teams/{team}", s.DeleteTeam).Methods(http.MethodDelete)
	r.HandleFunc("/teams/{team}/members", s.AddTeamMember).Methods(http.MethodPost)
	r.HandleFunc("/teams/{team}/members", s.ListTeamMembers).Methods(http.MethodGet)
	r.HandleFunc("/teams/{team}/members/{account}", s.RemoveTeamMember).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project}/teams", s.ListProjectTeams).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/teams/{team}", s.GrantTeamAccess).Methods(http.MethodPut)
	r.HandleFunc("/projects/{project}/teams/{team}", s.RevokeTeamAccess).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project}/teams/{team}/sync", s.SyncTeam).Methods(http.MethodPost)

	// Visibility
	r.HandleFunc("/projects/{project}/visibility", s.ListVisibility).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/visibility", s.SaveVisibility).Methods(http.MethodPut)
	r.HandleFunc("/projects/{project}/visibility/{module}", s.UpdateVisibility).Methods(http.MethodPut)
	r.HandleFunc("/projects/{project}/visibility/{module}", s.ResetVisibility).Methods(http.MethodDelete)
}

// routeTemplate labels metrics with the matched route, not the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// caller returns the authenticated identity; routes behind the identity
// middleware always carry one
func caller(r *http.Request) *identity.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

// authorizeProject lets the project owner and superusers through and
// answers 403 for everyone else
func (s *Server) authorizeProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) bool {
	id := caller(r)
	if id.Superuser {
		return true
	}
	owner, err := s.projects.ProjectOwner(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return false
	}
	if owner != id.AccountID {
		httputil.WriteForbidden(w, "only the project owner can manage this project")
		return false
	}
	return true
}

// authorizeOwner checks that the caller owns an account-scoped resource
func authorizeOwner(w http.ResponseWriter, r *http.Request, ownerAccountID uuid.UUID) bool {
	id := caller(r)
	if id.Superuser || id.AccountID == ownerAccountID {
		return true
	}
	httputil.WriteForbidden(w, "resource belongs to another account")
	return false
}

// projectParam parses the {project} route variable, writing 400 on failure
func projectParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return uuidParam(w, r, "project")
}

func uuidParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := httputil.ParsePathUUID(r, key)
	if err != nil {
		httputil.WriteError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

func moduleParam(w http.ResponseWriter, r *http.Request) (rbac.ModuleKey, bool) {
	raw, err := httputil.ParsePathString(r, "module")
	if err == nil {
		var key rbac.ModuleKey
		if key, err = rbac.ParseModuleKey(raw); err == nil {
			return key, true
		}
	}
	httputil.WriteError(w, r, err)
	return "", false
}
