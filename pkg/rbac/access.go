package rbac

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/drivewatch/pkg/observability"
	"github.com/platinummonkey/drivewatch/pkg/users"
)

// Dependencies wires an AccessControl. Users is required. When Roles or
// Permissions are nil they are built from Catalog (DefaultCatalog when nil)
// and Admins.
type Dependencies struct {
	Catalog     *Catalog
	Admins      AdminEmailSource
	Roles       RoleProvider
	Permissions PermissionProvider
	Users       UserStore
	Audit       AuditSink
	Metrics     DecisionRecorder
	Logger      *observability.Logger
	Tracer      trace.Tracer
}

// AccessControl is the entry point the rest of the application calls for
// authorization decisions and role management. Authorize is the only place
// authorization attempts are audited.
type AccessControl struct {
	roles   RoleProvider
	perms   PermissionProvider
	service *UserRoleService
	audit   AuditSink
	metrics DecisionRecorder
	logger  *observability.Logger
	tracer  trace.Tracer
}

// NewAccessControl builds the façade and any components not supplied in deps
func NewAccessControl(deps Dependencies) (*AccessControl, error) {
	const op = "rbac.NewAccessControl"

	if deps.Users == nil {
		return nil, misconfigured(op, "user store is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Audit == nil {
		deps.Audit = nopAuditSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.Tracer()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	if deps.Roles == nil {
		rm, err := NewRoleManager(catalog, deps.Admins, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Roles = rm
	}
	if deps.Permissions == nil {
		pm, err := NewPermissionManager(catalog, deps.Roles)
		if err != nil {
			return nil, err
		}
		deps.Permissions = pm
	}

	service, err := NewUserRoleService(deps.Roles, deps.Permissions, deps.Users, deps.Audit, deps.Logger)
	if err != nil {
		return nil, err
	}

	return &AccessControl{
		roles:   deps.Roles,
		perms:   deps.Permissions,
		service: service,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger.WithField("component", "access_control"),
		tracer:  deps.Tracer,
	}, nil
}

// Authorize decides whether email may access resource and always records an
// audit event for the attempt. When the user store fails the decision is a
// denial and the error is returned alongside it.
func (a *AccessControl) Authorize(ctx context.Context, email, resource string, ac AccessContext) (Decision, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "rbac.Authorize", trace.WithAttributes(
		attribute.String("rbac.resource", resource),
	))
	defer span.End()

	result, err := a.service.CheckUserAccess(ctx, email, resource, ac)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user store failure")
		observability.FromContext(ctx).WithError(err).WithField("resource", resource).Error("authorization failed closed")
		result.Authorized = false
	}

	ac.UserEmail = email
	a.record(ctx, span, email, resource, result, start)

	return Decision{AuthorizationResult: result, Resource: resource, Context: ac}, err
}

// CanPerformAction authorizes "<resource>.<action>". A malformed key is denied
// with reason "Invalid resource key: <key>" and audited like any other attempt.
func (a *AccessControl) CanPerformAction(ctx context.Context, email, action, resource string, ac AccessContext) (Decision, error) {
	key, err := JoinResourceKey(resource, action)
	if err != nil {
		raw := resource + "." + action
		start := time.Now()
		ctx, span := a.tracer.Start(ctx, "rbac.Authorize", trace.WithAttributes(
			attribute.String("rbac.resource", raw),
		))
		defer span.End()

		result := AuthorizationResult{Reason: "Invalid resource key: " + raw}
		ac.UserEmail = email
		a.record(ctx, span, email, raw, result, start)
		return Decision{AuthorizationResult: result, Resource: raw, Context: ac}, nil
	}
	return a.Authorize(ctx, email, key, ac)
}

func (a *AccessControl) record(ctx context.Context, span trace.Span, email, resource string, result AuthorizationResult, start time.Time) {
	span.SetAttributes(
		attribute.Bool("rbac.authorized", result.Authorized),
		attribute.String("rbac.role", result.UserRole),
		attribute.Bool("rbac.admin_privilege", result.AdminPrivilege),
	)
	a.audit.LogAuthorizationAttempt(ctx, email, resource, result.Authorized, result.Reason)
	a.metrics.RecordAuthorization(resource, result.Authorized, time.Since(start))
}

// GetUserAccessibleResources lists the resources the user's role can reach
func (a *AccessControl) GetUserAccessibleResources(ctx context.Context, email string) ([]ResourceDef, error) {
	info, err := a.service.GetUserRoleInfo(ctx, email)
	if err != nil {
		return nil, err
	}
	return info.AccessibleResources, nil
}

// GetUserRoleInfo returns the user with their role, permissions and resources
func (a *AccessControl) GetUserRoleInfo(ctx context.Context, email string) (*UserRoleInfo, error) {
	return a.service.GetUserRoleInfo(ctx, email)
}

// AssignRole changes a user's role; see UserRoleService.AssignRole
func (a *AccessControl) AssignRole(ctx context.Context, assignerEmail, targetEmail, newRole, reason string) (*RoleAssignment, error) {
	ctx, span := a.tracer.Start(ctx, "rbac.AssignRole", trace.WithAttributes(
		attribute.String("rbac.new_role", newRole),
	))
	defer span.End()

	assignment, err := a.service.AssignRole(ctx, assignerEmail, targetEmail, newRole, reason)
	a.metrics.RecordRoleAssignment(newRole, err == nil)
	if err != nil {
		span.RecordError(err)
		if KindOf(err) != KindUnauthorized {
			span.SetStatus(codes.Error, KindOf(err).String())
		}
	}
	return assignment, err
}

// GetUsersWithRoles lists all users; requires users.list
func (a *AccessControl) GetUsersWithRoles(ctx context.Context, requesterEmail string) ([]UserWithRole, error) {
	return a.service.GetUsersWithRoles(ctx, requesterEmail)
}

// GetRoleHierarchy returns all roles, highest level first
func (a *AccessControl) GetRoleHierarchy() []Role {
	return a.service.GetRoleHierarchy()
}

// GetUsersByRole lists users holding roleID; requires users.list
func (a *AccessControl) GetUsersByRole(ctx context.Context, roleID, requesterEmail string) ([]UserWithRole, error) {
	return a.service.GetUsersByRole(ctx, roleID, requesterEmail)
}

// ValidateRoleChange is the read-only counterpart of AssignRole
func (a *AccessControl) ValidateRoleChange(ctx context.Context, requesterEmail, targetEmail, newRole string) (RoleAssignmentValidation, error) {
	return a.service.ValidateRoleChange(ctx, requesterEmail, targetEmail, newRole)
}

// RegisterUser creates a user on first sight; see UserRoleService.RegisterUser
func (a *AccessControl) RegisterUser(ctx context.Context, email string, signup SignupContext) (*users.User, error) {
	return a.service.RegisterUser(ctx, email, signup)
}

// IsAdmin reports whether the stored role is admin or owner, or the email is
// on the admin email list regardless of stored role.
func (a *AccessControl) IsAdmin(ctx context.Context, email string) (bool, error) {
	if a.roles.IsAdminEmail(email) {
		return true, nil
	}
	u, err := a.lookup(ctx, "rbac.IsAdmin", email)
	if err != nil || u == nil {
		return false, err
	}
	return u.Role == RoleAdmin || u.Role == RoleOwner, nil
}

// IsOwner reports whether the stored role is owner. Admin emails do not count.
func (a *AccessControl) IsOwner(ctx context.Context, email string) (bool, error) {
	u, err := a.lookup(ctx, "rbac.IsOwner", email)
	if err != nil || u == nil {
		return false, err
	}
	return u.Role == RoleOwner, nil
}

// GetUserRoleLevel returns the level of the user's role; 0 for unknown users
func (a *AccessControl) GetUserRoleLevel(ctx context.Context, email string) (int, error) {
	u, err := a.lookup(ctx, "rbac.GetUserRoleLevel", email)
	if err != nil || u == nil {
		return 0, err
	}
	return a.roles.GetRoleLevel(u.Role), nil
}

// CanManageUser requires both users.manage and a manager level at least the target's
func (a *AccessControl) CanManageUser(ctx context.Context, managerEmail, targetEmail string) (ManageDecision, error) {
	const op = "rbac.CanManageUser"

	manager, err := a.lookup(ctx, op, managerEmail)
	if err != nil {
		return ManageDecision{}, err
	}
	if manager == nil {
		return ManageDecision{Reason: "Manager not found"}, nil
	}
	target, err := a.lookup(ctx, op, targetEmail)
	if err != nil {
		return ManageDecision{}, err
	}
	if target == nil {
		return ManageDecision{Reason: "Target user not found", ManagerRole: manager.Role, ManagerLevel: a.roles.GetRoleLevel(manager.Role)}, nil
	}

	d := ManageDecision{
		ManagerRole:  manager.Role,
		TargetRole:   target.Role,
		ManagerLevel: a.roles.GetRoleLevel(manager.Role),
		TargetLevel:  a.roles.GetRoleLevel(target.Role),
	}
	switch {
	case !a.roles.RoleHasPermission(manager.Role, PermUsersManage):
		d.Reason = fmt.Sprintf("Missing required permission: %s", PermUsersManage)
	case !a.roles.CanManageRole(manager.Role, target.Role):
		d.Reason = ReasonCannotManageLevel
	default:
		d.CanManage = true
		d.Reason = "Can manage user"
	}
	return d, nil
}

// GetSystemAccessSummary aggregates users per role and status; requires system.manage
func (a *AccessControl) GetSystemAccessSummary(ctx context.Context, requesterEmail string) (*SystemAccessSummary, error) {
	const op = "rbac.GetSystemAccessSummary"

	decision, err := a.Authorize(ctx, requesterEmail, ResourceSystemManage, AccessContext{})
	if err != nil {
		return nil, err
	}
	if !decision.Authorized {
		return nil, unauthorized(op, "Access denied: "+decision.Reason)
	}

	all, err := a.service.store.GetAllUsers(ctx)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	summary := &SystemAccessSummary{
		TotalUsers:    len(all),
		UsersByRole:   make(map[string]int),
		UsersByStatus: make(map[users.Status]int),
		AdminEmails:   a.roles.GetAdminEmails(),
		Roles:         a.roles.GetRoleHierarchy(),
		GeneratedAt:   time.Now().UTC(),
	}
	for _, role := range summary.Roles {
		summary.UsersByRole[role.ID] = 0
	}
	for _, u := range all {
		summary.UsersByRole[u.Role]++
		summary.UsersByStatus[u.Status]++
	}
	return summary, nil
}

// lookup returns (nil, nil) for unknown users and KindStoreFailure for store errors
func (a *AccessControl) lookup(ctx context.Context, op, email string) (*users.User, error) {
	u, err := a.service.fetchUser(ctx, op, email, ReasonUserNotFound)
	if KindOf(err) == KindNotFound {
		return nil, nil
	}
	return u, err
}
