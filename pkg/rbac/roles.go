package rbac

import (
	"strings"

	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// AdminEmailSource supplies the configured admin email list
type AdminEmailSource interface {
	AdminEmails() ([]string, error)
}

// RoleProvider answers questions about roles, the hierarchy and admin emails
type RoleProvider interface {
	GetRole(roleID string) (Role, bool)
	GetRolePermissions(roleID string) []string
	RoleHasPermission(roleID, permission string) bool
	GetRoleLevel(roleID string) int
	CanManageRole(managerRoleID, targetRoleID string) bool
	GetRoleHierarchy() []Role
	DetermineInitialRole(email string, signup SignupContext) string
	GetAdminEmails() []string
	IsAdminEmail(email string) bool
	ValidateRoleAssignment(assignerRole, targetRole, targetEmail string) RoleAssignmentValidation
}

// RoleManager is the RoleProvider backed by a Catalog
type RoleManager struct {
	catalog *Catalog
	admins  AdminEmailSource
	logger  *observability.Logger
}

var _ RoleProvider = (*RoleManager)(nil)

// NewRoleManager creates a RoleManager. admins may be nil, in which case no
// email is treated as an admin email.
func NewRoleManager(catalog *Catalog, admins AdminEmailSource, logger *observability.Logger) (*RoleManager, error) {
	if catalog == nil {
		return nil, misconfigured("rbac.NewRoleManager", "catalog is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RoleManager{
		catalog: catalog,
		admins:  admins,
		logger:  logger.WithField("component", "role_manager"),
	}, nil
}

// GetRole returns the role with the given ID
func (m *RoleManager) GetRole(roleID string) (Role, bool) {
	return m.catalog.Role(roleID)
}

// GetRolePermissions returns the role's permissions, or an empty set for unknown roles
func (m *RoleManager) GetRolePermissions(roleID string) []string {
	role, ok := m.catalog.Role(roleID)
	if !ok {
		return []string{}
	}
	return role.Permissions
}

// RoleHasPermission reports whether the role grants permission
func (m *RoleManager) RoleHasPermission(roleID, permission string) bool {
	role, ok := m.catalog.roles[roleID]
	return ok && role.HasPermission(permission)
}

// GetRoleLevel returns the role's hierarchy level; 0 for unknown roles
func (m *RoleManager) GetRoleLevel(roleID string) int {
	role, ok := m.catalog.roles[roleID]
	if !ok {
		return 0
	}
	return role.Level
}

// CanManageRole reports whether level(manager) >= level(target).
// The comparison is non-strict: a role can manage its own level.
func (m *RoleManager) CanManageRole(managerRoleID, targetRoleID string) bool {
	return m.GetRoleLevel(managerRoleID) >= m.GetRoleLevel(targetRoleID)
}

// GetRoleHierarchy returns all roles, highest level first
func (m *RoleManager) GetRoleHierarchy() []Role {
	return m.catalog.Roles()
}

// DetermineInitialRole picks the role for a user seen for the first time
func (m *RoleManager) DetermineInitialRole(email string, signup SignupContext) string {
	if m.IsAdminEmail(email) {
		return RoleAdmin
	}
	if signup.ApprovedDomain {
		return RoleUser
	}
	return RoleGuest
}

// GetAdminEmails returns the normalized admin email list. Source failures
// are logged and yield an empty list.
func (m *RoleManager) GetAdminEmails() []string {
	if m.admins == nil {
		return []string{}
	}
	raw, err := m.admins.AdminEmails()
	if err != nil {
		m.logger.WithError(err).Warn("failed to read admin emails")
		return []string{}
	}
	emails := make([]string, 0, len(raw))
	for _, e := range raw {
		e = normalizeEmail(e)
		if e == "" {
			continue
		}
		emails = append(emails, e)
	}
	return emails
}

// IsAdminEmail reports whether email is on the admin email list
func (m *RoleManager) IsAdminEmail(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	for _, admin := range m.GetAdminEmails() {
		if admin == email {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sameEmail(a, b string) bool {
	return normalizeEmail(a) == normalizeEmail(b)
}
