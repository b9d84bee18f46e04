// Package rbac decides who may do what in the drivewatch dashboard.
//
// Roles form a strict hierarchy (guest < user < admin < owner), each carrying
// a set of permission tokens such as "users.manage". Resources are
// "<domain>.<action>" keys, each mapped to exactly one required permission.
// Both catalogs are immutable after construction; DefaultCatalog holds the
// built-in set and LoadCatalog reads a replacement from YAML.
//
// The pieces:
//
//   - RoleManager answers role questions and validates role assignments.
//   - PermissionManager maps resources to permissions and makes decisions,
//     including the own-profile and admin-email rules in ValidateAccess.
//   - UserRoleService combines both with the current user record from a
//     UserStore. Every call re-reads the user; nothing is cached.
//   - AccessControl is the entry point for the rest of the application. It is
//     the only component that audits authorization attempts.
//
// Denials are values (AuthorizationResult, RoleAssignmentValidation) carrying
// a human-readable Reason. Errors are *Error values classified by Kind.
//
//	access, err := rbac.NewAccessControl(rbac.Dependencies{
//		Users:  store,
//		Admins: adminemails.NewStatic("ops@example.com"),
//		Audit:  sink,
//	})
//	decision, err := access.Authorize(ctx, "alice@example.com", "users.list", rbac.AccessContext{})
//
// Handlers exposes the same operations over HTTP with gorilla/mux.
package rbac
