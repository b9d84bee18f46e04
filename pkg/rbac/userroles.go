package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/drivewatch/pkg/observability"
	"github.com/platinummonkey/drivewatch/pkg/users"
)

// SystemActor is recorded as the assigner for changes the service makes on its own
const SystemActor = "system"

// UserRoleService answers authorization questions for concrete users by
// combining the catalogs with the current state of the user store. Every call
// re-reads the users it needs; nothing is cached between calls.
type UserRoleService struct {
	roles  RoleProvider
	perms  PermissionProvider
	store  UserStore
	audit  AuditSink
	logger *observability.Logger
	now    func() time.Time
}

// NewUserRoleService creates a UserRoleService. roles, perms and store are
// required; a nil audit sink discards events.
func NewUserRoleService(roles RoleProvider, perms PermissionProvider, store UserStore, audit AuditSink, logger *observability.Logger) (*UserRoleService, error) {
	const op = "rbac.NewUserRoleService"
	if roles == nil {
		return nil, misconfigured(op, "role provider is required")
	}
	if perms == nil {
		return nil, misconfigured(op, "permission provider is required")
	}
	if store == nil {
		return nil, misconfigured(op, "user store is required")
	}
	if audit == nil {
		audit = nopAuditSink{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &UserRoleService{
		roles:  roles,
		perms:  perms,
		store:  store,
		audit:  audit,
		logger: logger.WithField("component", "user_role_service"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// fetchUser reads one user. Missing users become KindNotFound with message;
// any other store error becomes KindStoreFailure.
func (s *UserRoleService) fetchUser(ctx context.Context, op, email, message string) (*users.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, notFound(op, message, ErrUserNotFound)
	}
	if err != nil {
		return nil, storeFailure(op, err)
	}
	if u == nil {
		return nil, notFound(op, message, ErrUserNotFound)
	}
	return u, nil
}

// fetchPair reads the acting user and the target, reading the store once when
// they are the same person
func (s *UserRoleService) fetchPair(ctx context.Context, op, actorEmail, actorMessage, targetEmail string) (actor, target *users.User, err error) {
	actor, err = s.fetchUser(ctx, op, actorEmail, actorMessage)
	if err != nil {
		return nil, nil, err
	}
	if sameEmail(actorEmail, targetEmail) {
		return actor, actor, nil
	}
	target, err = s.fetchUser(ctx, op, targetEmail, "Target user not found")
	if err != nil {
		return nil, nil, err
	}
	return actor, target, nil
}

// AssignRole gives newRole to targetEmail on behalf of assignerEmail.
// A rejected assignment is returned as KindUnauthorized carrying the
// validator's reason; nothing is written in that case.
func (s *UserRoleService) AssignRole(ctx context.Context, assignerEmail, targetEmail, newRole, reason string) (*RoleAssignment, error) {
	const op = "rbac.AssignRole"

	if normalizeEmail(targetEmail) == "" {
		return nil, invalid(op, "Target email is required", nil)
	}
	if newRole == "" {
		return nil, invalid(op, "New role is required", nil)
	}

	assigner, target, err := s.fetchPair(ctx, op, assignerEmail, "Assigner not found", targetEmail)
	if err != nil {
		return nil, err
	}

	v := s.roles.ValidateRoleAssignment(assigner.Role, newRole, target.Email)
	if !v.Valid {
		s.logger.WithFields(map[string]interface{}{
			"assigner": assigner.Email,
			"target":   target.Email,
			"new_role": newRole,
			"reason":   v.Reason,
		}).Info("role assignment rejected")
		return nil, unauthorized(op, v.Reason)
	}

	at := s.now()
	patch := users.Patch{
		Role:      &newRole,
		UpdatedBy: assigner.Email,
		UpdatedAt: at,
	}
	if _, err := s.store.UpdateUser(ctx, target.Email, patch); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, notFound(op, "Target user not found", ErrUserNotFound)
		}
		return nil, storeFailure(op, err)
	}

	s.audit.LogRoleAssignment(ctx, assigner.Email, target.Email, target.Role, newRole, reason)

	s.logger.WithFields(map[string]interface{}{
		"assigner":      assigner.Email,
		"target":        target.Email,
		"previous_role": target.Role,
		"new_role":      newRole,
	}).Info("role assigned")

	return &RoleAssignment{
		TargetEmail:  target.Email,
		PreviousRole: target.Role,
		NewRole:      newRole,
		AssignedBy:   assigner.Email,
		Reason:       reason,
		AssignedAt:   at,
	}, nil
}

// GetUserRoleInfo returns the user together with everything their role grants
func (s *UserRoleService) GetUserRoleInfo(ctx context.Context, email string) (*UserRoleInfo, error) {
	const op = "rbac.GetUserRoleInfo"

	u, err := s.fetchUser(ctx, op, email, ReasonUserNotFound)
	if err != nil {
		return nil, err
	}

	info := &UserRoleInfo{
		User:                *u,
		Permissions:         s.roles.GetRolePermissions(u.Role),
		AccessibleResources: s.perms.GetAccessibleResources(u.Role),
		IsAdminEmail:        s.roles.IsAdminEmail(u.Email),
	}
	if role, ok := s.roles.GetRole(u.Role); ok {
		info.Role = &role
	}
	return info, nil
}

// CheckUserAccess decides whether the user behind email may reach resource.
// An unknown user or a non-active account is a denial, not an error; only a
// failing store returns an error. This method does not write audit events.
func (s *UserRoleService) CheckUserAccess(ctx context.Context, email, resource string, ac AccessContext) (AuthorizationResult, error) {
	const op = "rbac.CheckUserAccess"

	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) || (err == nil && u == nil) {
		return AuthorizationResult{Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return AuthorizationResult{Reason: "User store unavailable"}, storeFailure(op, err)
	}

	if !u.IsActive() {
		return AuthorizationResult{Reason: ReasonUserNotActive, UserRole: u.Role}, nil
	}

	ac.UserEmail = email
	return s.perms.ValidateAccess(u.Role, resource, ac), nil
}

// GetUsersWithRoles lists every user with role metadata. The requester needs
// access to users.list; otherwise a KindUnauthorized "Access denied: <reason>"
// error is returned.
func (s *UserRoleService) GetUsersWithRoles(ctx context.Context, requesterEmail string) ([]UserWithRole, error) {
	const op = "rbac.GetUsersWithRoles"

	if err := s.requireAccess(ctx, op, requesterEmail, ResourceUsersList); err != nil {
		return nil, err
	}

	all, err := s.store.GetAllUsers(ctx)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return s.annotate(all, ""), nil
}

// GetUsersByRole lists users holding roleID; same access rule as GetUsersWithRoles
func (s *UserRoleService) GetUsersByRole(ctx context.Context, roleID, requesterEmail string) ([]UserWithRole, error) {
	const op = "rbac.GetUsersByRole"

	if err := s.requireAccess(ctx, op, requesterEmail, ResourceUsersList); err != nil {
		return nil, err
	}
	if _, ok := s.roles.GetRole(roleID); !ok {
		return nil, notFound(op, "Role not found: "+roleID, ErrRoleNotFound)
	}

	all, err := s.store.GetAllUsers(ctx)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return s.annotate(all, roleID), nil
}

// GetRoleHierarchy returns all roles, highest level first
func (s *UserRoleService) GetRoleHierarchy() []Role {
	return s.roles.GetRoleHierarchy()
}

// ValidateRoleChange runs the same rules as AssignRole without writing anything
func (s *UserRoleService) ValidateRoleChange(ctx context.Context, requesterEmail, targetEmail, newRole string) (RoleAssignmentValidation, error) {
	const op = "rbac.ValidateRoleChange"

	requester, target, err := s.fetchPair(ctx, op, requesterEmail, "Requester not found", targetEmail)
	if err != nil {
		return RoleAssignmentValidation{}, err
	}
	return s.roles.ValidateRoleAssignment(requester.Role, newRole, target.Email), nil
}

// RegisterUser creates the record for a user seen for the first time. The
// role comes from DetermineInitialRole; admin emails and approved-domain
// users start active, everyone else pending. An existing user is returned
// unchanged.
func (s *UserRoleService) RegisterUser(ctx context.Context, email string, signup SignupContext) (*users.User, error) {
	const op = "rbac.RegisterUser"

	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid(op, "Email is required", nil)
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return nil, storeFailure(op, err)
	}

	role := s.roles.DetermineInitialRole(email, signup)
	status := users.StatusPending
	if signup.ApprovedDomain || s.roles.IsAdminEmail(email) {
		status = users.StatusActive
	}

	now := s.now()
	created, err := s.store.CreateUser(ctx, users.User{
		Email:     email,
		Role:      role,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: SystemActor,
	})
	if errors.Is(err, users.ErrAlreadyExists) {
		// lost a race with a concurrent registration
		return s.fetchUser(ctx, op, email, ReasonUserNotFound)
	}
	if err != nil {
		return nil, storeFailure(op, err)
	}

	s.audit.LogRoleAssignment(ctx, SystemActor, email, "", role, "Initial role assignment")
	s.logger.WithFields(map[string]interface{}{
		"email":  email,
		"role":   role,
		"status": string(status),
		"domain": signup.Domain,
	}).Info("user registered")

	return created, nil
}

func (s *UserRoleService) requireAccess(ctx context.Context, op, email, resource string) error {
	res, err := s.CheckUserAccess(ctx, email, resource, AccessContext{})
	if err != nil {
		return err
	}
	if !res.Authorized {
		return unauthorized(op, "Access denied: "+res.Reason)
	}
	return nil
}

// annotate attaches role metadata; a non-empty roleID filters to that role
func (s *UserRoleService) annotate(all []users.User, roleID string) []UserWithRole {
	admins := make(map[string]struct{})
	for _, e := range s.roles.GetAdminEmails() {
		admins[e] = struct{}{}
	}

	out := make([]UserWithRole, 0, len(all))
	for _, u := range all {
		if roleID != "" && u.Role != roleID {
			continue
		}
		uw := UserWithRole{User: u, RoleName: u.Role}
		if role, ok := s.roles.GetRole(u.Role); ok {
			uw.RoleName = role.Name
			uw.RoleLevel = role.Level
		}
		_, uw.IsAdminEmail = admins[normalizeEmail(u.Email)]
		out = append(out, uw)
	}
	return out
}
