package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is the immutable set of roles and resources. It is built once at
// startup and shared by reference; all accessors return copies.
type Catalog struct {
	roles         map[string]Role
	hierarchy     []string // role IDs, descending by level
	resources     []ResourceDef
	resourceIndex map[string]int
}

// catalogFile is the on-disk YAML shape accepted by LoadCatalog
type catalogFile struct {
	Roles     []Role        `yaml:"roles"`
	Resources []ResourceDef `yaml:"resources"`
}

// NewCatalog validates roles and resources and builds a Catalog.
// Role IDs and levels must be unique and levels positive; resource IDs must be
// unique "<domain>.<action>" keys with exactly one required permission.
func NewCatalog(roles []Role, resources []ResourceDef) (*Catalog, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("catalog: at least one role is required")
	}

	c := &Catalog{
		roles:         make(map[string]Role, len(roles)),
		hierarchy:     make([]string, 0, len(roles)),
		resources:     make([]ResourceDef, 0, len(resources)),
		resourceIndex: make(map[string]int, len(resources)),
	}

	levels := make(map[int]string, len(roles))
	for _, role := range roles {
		if role.ID == "" {
			return nil, fmt.Errorf("catalog: role with empty id")
		}
		if _, dup := c.roles[role.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate role %q", role.ID)
		}
		if role.Level <= 0 {
			return nil, fmt.Errorf("catalog: role %q must have a positive level", role.ID)
		}
		if other, dup := levels[role.Level]; dup {
			return nil, fmt.Errorf("catalog: roles %q and %q share level %d", other, role.ID, role.Level)
		}
		levels[role.Level] = role.ID
		c.roles[role.ID] = role.clone()
		c.hierarchy = append(c.hierarchy, role.ID)
	}
	sort.Slice(c.hierarchy, func(i, j int) bool {
		return c.roles[c.hierarchy[i]].Level > c.roles[c.hierarchy[j]].Level
	})

	for _, res := range resources {
		if _, err := ParseResourceKey(res.Resource); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if res.Permission == "" {
			return nil, fmt.Errorf("catalog: resource %q has no required permission", res.Resource)
		}
		if _, dup := c.resourceIndex[res.Resource]; dup {
			return nil, fmt.Errorf("catalog: duplicate resource %q", res.Resource)
		}
		c.resourceIndex[res.Resource] = len(c.resources)
		c.resources = append(c.resources, res)
	}

	return c, nil
}

// DefaultCatalog returns the built-in owner/admin/user/guest catalog
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRoles(), DefaultResources())
	if err != nil {
		panic(fmt.Sprintf("rbac: default catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog builds a Catalog from YAML. Missing sections fall back to the defaults.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Roles) == 0 {
		file.Roles = DefaultRoles()
	}
	if len(file.Resources) == 0 {
		file.Resources = DefaultResources()
	}
	return NewCatalog(file.Roles, file.Resources)
}

// LoadCatalog reads a YAML catalog file. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// Role looks up a role by exact ID
func (c *Catalog) Role(id string) (Role, bool) {
	role, ok := c.roles[id]
	if !ok {
		return Role{}, false
	}
	return role.clone(), true
}

// Roles returns every role, descending by level
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.hierarchy))
	for _, id := range c.hierarchy {
		out = append(out, c.roles[id].clone())
	}
	return out
}

// Resource looks up a resource by exact ID
func (c *Catalog) Resource(id string) (ResourceDef, bool) {
	idx, ok := c.resourceIndex[id]
	if !ok {
		return ResourceDef{}, false
	}
	return c.resources[idx], true
}

// Resources returns every resource in definition order
func (c *Catalog) Resources() []ResourceDef {
	out := make([]ResourceDef, len(c.resources))
	copy(out, c.resources)
	return out
}

// DefaultRoles returns the built-in role definitions
func DefaultRoles() []Role {
	guest := []string{
		PermDashboardView,
		PermHelpAccess,
	}
	user := []string{
		PermNotificationsSend,
		PermProfileView,
		PermProfileUpdate,
		PermDashboardView,
		PermHelpAccess,
	}
	admin := []string{
		PermUsersView,
		PermUsersCreate,
		PermUsersUpdate,
		PermUsersDelete,
		PermUsersManage,
		PermConfigView,
		PermConfigUpdate,
		PermTriggersView,
		PermTriggersManage,
		PermNotificationsSend,
		PermNotificationsManage,
		PermAuditView,
		PermRolesAssign,
		PermProfileView,
		PermProfileUpdate,
		PermDashboardView,
		PermHelpAccess,
	}
	owner := append(append([]string{}, admin...),
		PermSystemManage,
		PermRolesManage,
		PermAuditExport,
	)

	return []Role{
		{
			ID:          RoleOwner,
			Name:        "Owner",
			Description: "Full system access including role management and audit export",
			Permissions: owner,
			Level:       4,
		},
		{
			ID:          RoleAdmin,
			Name:        "Administrator",
			Description: "Manages users, configuration, triggers and notifications",
			Permissions: admin,
			Level:       3,
		},
		{
			ID:          RoleUser,
			Name:        "User",
			Description: "Standard access to notifications and own profile",
			Permissions: user,
			Level:       2,
		},
		{
			ID:          RoleGuest,
			Name:        "Guest",
			Description: "Read-only dashboard and help access",
			Permissions: guest,
			Level:       1,
		},
	}
}

// DefaultResources returns the built-in resource catalog in definition order
func DefaultResources() []ResourceDef {
	return []ResourceDef{
		{Resource: "users.list", Permission: PermUsersView, Description: "List users and their roles"},
		{Resource: "users.view", Permission: PermUsersView, Description: "View user details"},
		{Resource: "users.create", Permission: PermUsersCreate, Description: "Create new users"},
		{Resource: "users.update", Permission: PermUsersUpdate, Description: "Update user details"},
		{Resource: "users.delete", Permission: PermUsersDelete, Description: "Delete users"},
		{Resource: "users.manage", Permission: PermUsersManage, Description: "Manage other users' accounts and profiles"},
		{Resource: "users.approve", Permission: PermUsersManage, Description: "Approve pending users"},
		{Resource: "config.view", Permission: PermConfigView, Description: "View monitoring configuration"},
		{Resource: "config.update", Permission: PermConfigUpdate, Description: "Update monitoring configuration"},
		{Resource: "triggers.view", Permission: PermTriggersView, Description: "View monitoring triggers"},
		{Resource: "triggers.manage", Permission: PermTriggersManage, Description: "Create and delete monitoring triggers"},
		{Resource: "notifications.send", Permission: PermNotificationsSend, Description: "Send notifications"},
		{Resource: "notifications.test", Permission: PermNotificationsSend, Description: "Send a test notification"},
		{Resource: "notifications.manage", Permission: PermNotificationsManage, Description: "Manage notification channels"},
		{Resource: "audit.view", Permission: PermAuditView, Description: "View audit logs"},
		{Resource: "audit.export", Permission: PermAuditExport, Description: "Export audit logs"},
		{Resource: "roles.assign", Permission: PermRolesAssign, Description: "Assign roles to users"},
		{Resource: "roles.manage", Permission: PermRolesManage, Description: "Manage role definitions"},
		{Resource: "system.manage", Permission: PermSystemManage, Description: "System administration"},
		{Resource: "system.status", Permission: PermConfigView, Description: "View system status"},
		{Resource: "profile.view", Permission: PermProfileView, Description: "View user profile"},
		{Resource: "profile.update", Permission: PermProfileUpdate, Description: "Update user profile"},
		{Resource: "dashboard.view", Permission: PermDashboardView, Description: "View dashboard"},
		{Resource: "help.access", Permission: PermHelpAccess, Description: "Access help pages"},
	}
}
