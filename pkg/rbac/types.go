package rbac

import (
	"time"

	"github.com/platinummonkey/drivewatch/pkg/users"
)

// Built-in role identifiers
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// Permission tokens used by the default catalog
const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"
	PermUsersManage = "users.manage"

	PermConfigView   = "config.view"
	PermConfigUpdate = "config.update"

	PermTriggersView   = "triggers.view"
	PermTriggersManage = "triggers.manage"

	PermNotificationsSend   = "notifications.send"
	PermNotificationsManage = "notifications.manage"

	PermAuditView   = "audit.view"
	PermAuditExport = "audit.export"

	PermRolesAssign = "roles.assign"
	PermRolesManage = "roles.manage"

	PermSystemManage = "system.manage"

	PermProfileView   = "profile.view"
	PermProfileUpdate = "profile.update"

	PermDashboardView = "dashboard.view"
	PermHelpAccess    = "help.access"
)

// Resources referenced directly by the services
const (
	ResourceUsersList    = "users.list"
	ResourceUsersManage  = "users.manage"
	ResourceSystemManage = "system.manage"
	ResourceAuditExport  = "audit.export"
)

// Decision reasons. Callers display these verbatim, so they are part of the API.
const (
	ReasonPermissionGranted      = "Permission granted"
	ReasonResourceNotFound       = "Resource not found"
	ReasonRoleManagerUnavailable = "RoleManager not available"
	ReasonOwnProfile             = "Accessing own profile - allowed"
	ReasonOtherProfile           = "Cannot access other user profiles"
	ReasonAdminEmail             = "Admin email privilege granted"
	ReasonUserNotActive          = "User account is not active"
	ReasonUserNotFound           = "User not found"

	ReasonAssignerRoleMissing = "Assigner role does not exist"
	ReasonTargetRoleMissing   = "Target role does not exist"
	ReasonOwnerOnly           = "Only owners can assign owner role"
	ReasonAdminEmailAutoAdmin = "Admin email automatically gets admin role"
	ReasonCannotAssign        = "Insufficient permissions to assign roles"
	ReasonCannotManageLevel   = "Cannot manage role of equal or higher level"
	ReasonAssignmentValid     = "Role assignment is valid"
)

// Role is a named privilege tier. Level is strictly increasing with privilege.
type Role struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	Level       int      `json:"level" yaml:"level"`
}

// HasPermission reports whether perm is a member of the role's permission set
func (r Role) HasPermission(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

func (r Role) clone() Role {
	perms := make([]string, len(r.Permissions))
	copy(perms, r.Permissions)
	r.Permissions = perms
	return r
}

// ResourceDef maps a "<domain>.<action>" resource to the one permission required to access it
type ResourceDef struct {
	Resource    string `json:"resource" yaml:"resource"`
	Permission  string `json:"permission" yaml:"permission"`
	Description string `json:"description" yaml:"description"`
}

// AuthorizationResult is the outcome of a permission decision
type AuthorizationResult struct {
	Authorized         bool   `json:"authorized"`
	Reason             string `json:"reason"`
	RequiredPermission string `json:"required_permission,omitempty"`
	UserRole           string `json:"user_role,omitempty"`
	AdminPrivilege     bool   `json:"admin_privilege,omitempty"`
}

// RoleAssignmentValidation is the outcome of a role assignment rule check
type RoleAssignmentValidation struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason"`
	CanAssign bool   `json:"can_assign"`
	CanManage bool   `json:"can_manage"`
}

// AccessContext carries the contextual inputs used by ValidateAccess
type AccessContext struct {
	UserEmail   string `json:"user_email,omitempty"`
	TargetEmail string `json:"target_email,omitempty"`
}

// SignupContext describes how a user first reached the application
type SignupContext struct {
	Domain         string `json:"domain,omitempty"`
	ApprovedDomain bool   `json:"approved_domain"`
}

// RoleAssignment describes a completed role change
type RoleAssignment struct {
	TargetEmail  string    `json:"target_email"`
	PreviousRole string    `json:"previous_role"`
	NewRole      string    `json:"new_role"`
	AssignedBy   string    `json:"assigned_by"`
	Reason       string    `json:"reason,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// UserRoleInfo bundles a user with everything their role grants
type UserRoleInfo struct {
	User                users.User    `json:"user"`
	Role                *Role         `json:"role,omitempty"`
	Permissions         []string      `json:"permissions"`
	AccessibleResources []ResourceDef `json:"accessible_resources"`
	IsAdminEmail        bool          `json:"is_admin_email"`
}

// UserWithRole is a user annotated with role metadata for listings
type UserWithRole struct {
	users.User
	RoleName     string `json:"role_name"`
	RoleLevel    int    `json:"role_level"`
	IsAdminEmail bool   `json:"is_admin_email"`
}

// Decision is the façade-level authorization answer
type Decision struct {
	AuthorizationResult
	Resource string        `json:"resource"`
	Context  AccessContext `json:"context"`
}

// ManageDecision is the result of CanManageUser
type ManageDecision struct {
	CanManage    bool   `json:"can_manage"`
	Reason       string `json:"reason"`
	ManagerRole  string `json:"manager_role,omitempty"`
	TargetRole   string `json:"target_role,omitempty"`
	ManagerLevel int    `json:"manager_level"`
	TargetLevel  int    `json:"target_level"`
}

// SystemAccessSummary aggregates user counts for system administrators
type SystemAccessSummary struct {
	TotalUsers    int                  `json:"total_users"`
	UsersByRole   map[string]int       `json:"users_by_role"`
	UsersByStatus map[users.Status]int `json:"users_by_status"`
	AdminEmails   []string             `json:"admin_emails"`
	Roles         []Role               `json:"roles"`
	GeneratedAt   time.Time            `json:"generated_at"`
}
