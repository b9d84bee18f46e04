package rbac

import (
	"fmt"
	"strings"
)

// PermissionProvider maps resources to required permissions and makes
// authorization decisions for a role
type PermissionProvider interface {
	CheckPermission(roleID, resource string) AuthorizationResult
	IsAuthorized(roleID, action, resource string) bool
	GetAccessibleResources(roleID string) []ResourceDef
	GetResourceRequirements(resource string) (ResourceDef, bool)
	ValidateAccess(roleID, resource string, ac AccessContext) AuthorizationResult
	GetResourcesByPermission(permission string) []ResourceDef
}

// PermissionManager is the PermissionProvider backed by a Catalog and a RoleProvider
type PermissionManager struct {
	catalog *Catalog
	roles   RoleProvider
}

var _ PermissionProvider = (*PermissionManager)(nil)

// NewPermissionManager creates a PermissionManager
func NewPermissionManager(catalog *Catalog, roles RoleProvider) (*PermissionManager, error) {
	if catalog == nil {
		return nil, misconfigured("rbac.NewPermissionManager", "catalog is required")
	}
	if roles == nil {
		return nil, misconfigured("rbac.NewPermissionManager", "role provider is required")
	}
	return &PermissionManager{catalog: catalog, roles: roles}, nil
}

// CheckPermission decides whether roleID holds the permission resource requires
func (pm *PermissionManager) CheckPermission(roleID, resource string) AuthorizationResult {
	def, ok := pm.lookup(resource)
	if !ok {
		return AuthorizationResult{Reason: ReasonResourceNotFound, UserRole: roleID}
	}
	if pm.roles == nil {
		return AuthorizationResult{
			Reason:             ReasonRoleManagerUnavailable,
			RequiredPermission: def.Permission,
			UserRole:           roleID,
		}
	}

	result := AuthorizationResult{
		RequiredPermission: def.Permission,
		UserRole:           roleID,
	}
	if pm.roles.RoleHasPermission(roleID, def.Permission) {
		result.Authorized = true
		result.Reason = ReasonPermissionGranted
	} else {
		result.Reason = fmt.Sprintf("Missing required permission: %s", def.Permission)
	}
	return result
}

// IsAuthorized checks "<resource>.<action>"; malformed keys are never authorized
func (pm *PermissionManager) IsAuthorized(roleID, action, resource string) bool {
	key, err := JoinResourceKey(resource, action)
	if err != nil {
		return false
	}
	return pm.CheckPermission(roleID, key).Authorized
}

// GetAccessibleResources lists the resources roleID can reach, in catalog order
func (pm *PermissionManager) GetAccessibleResources(roleID string) []ResourceDef {
	out := []ResourceDef{}
	if pm.catalog == nil || pm.roles == nil {
		return out
	}
	for _, def := range pm.catalog.resources {
		if pm.roles.RoleHasPermission(roleID, def.Permission) {
			out = append(out, def)
		}
	}
	return out
}

// GetResourceRequirements returns the definition of resource
func (pm *PermissionManager) GetResourceRequirements(resource string) (ResourceDef, bool) {
	return pm.lookup(resource)
}

// ValidateAccess runs CheckPermission and then, only when it succeeded,
// applies the contextual rules:
//   - profile resources with a target: own profile is allowed, someone else's
//     requires users.manage
//   - an admin email acting is annotated with AdminPrivilege
//
// A denied base check is returned unchanged; nothing here turns false into true.
func (pm *PermissionManager) ValidateAccess(roleID, resource string, ac AccessContext) AuthorizationResult {
	result := pm.CheckPermission(roleID, resource)
	if !result.Authorized {
		return result
	}

	if strings.HasPrefix(resource, "profile.") && ac.TargetEmail != "" {
		if sameEmail(ac.UserEmail, ac.TargetEmail) {
			result.Reason = ReasonOwnProfile
		} else if !pm.CheckPermission(roleID, ResourceUsersManage).Authorized {
			result.Authorized = false
			result.Reason = ReasonOtherProfile
			return result
		}
	}

	if ac.UserEmail != "" && pm.roles.IsAdminEmail(ac.UserEmail) {
		result.AdminPrivilege = true
		result.Reason = ReasonAdminEmail
	}

	return result
}

// GetResourcesByPermission lists resources gated by permission, in catalog order
func (pm *PermissionManager) GetResourcesByPermission(permission string) []ResourceDef {
	out := []ResourceDef{}
	if pm.catalog == nil {
		return out
	}
	for _, def := range pm.catalog.resources {
		if def.Permission == permission {
			out = append(out, def)
		}
	}
	return out
}

func (pm *PermissionManager) lookup(resource string) (ResourceDef, bool) {
	if pm.catalog == nil {
		return ResourceDef{}, false
	}
	return pm.catalog.Resource(resource)
}
