// Package rbac provides the permission module catalog and the role registry
// for project content.
//
// # Modules and Operations
//
// A ModuleKey names an independently permissioned content domain such as
// tasks, drawings or rfis. The set is closed: ParseModuleKey, JSON and YAML
// decoding and database scans all reject keys outside AllModules.
//
// Every module is guarded by four operations:
//
//	OpView    - see module content
//	OpCreate  - add content
//	OpEdit    - change content
//	OpDelete  - remove content
//
// # Grants
//
// A Grant is the flag set for one module. Create, edit or delete always imply
// view; Normalize enforces this and every write path normalizes before it
// stores anything:
//
//	g := rbac.Grant{Edit: true}.Normalize()
//	// g.View == true
//
// # Roles
//
// A Role is a named bundle of ModuleGrant rows owned by an account. Updates
// replace the whole grant set inside one transaction. Deleting a role only
// marks it inactive; members still pointing at it resolve to no authority.
//
//	registry := rbac.NewRegistry(rbac.NewStore(db), logger)
//	role, err := registry.CreateRole(ctx, owner, rbac.RoleInput{
//		Name: "Editor",
//		Grants: []rbac.ModuleGrant{
//			{Module: rbac.ModuleTasks, Grant: rbac.Grant{View: true, Create: true, Edit: true}},
//		},
//	})
//
// # Project Role Whitelist
//
// SetAvailableRoles restricts which roles may be assigned inside a project.
// A project with no whitelist accepts any active role. AssignableRole applies
// both checks.
//
// # Templates
//
// Role templates are YAML documents of named grant bundles. A default set is
// embedded; SeedTemplates turns templates into roles for an owner account.
//
// # Catalog
//
// Catalog caches the active module list with an expiring LRU. SetActive
// invalidates the cache.
package rbac
