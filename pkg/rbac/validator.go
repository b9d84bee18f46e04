package rbac

// ValidateRoleAssignment decides whether a user holding assignerRole may give
// targetRole to targetEmail. Rules are evaluated in a fixed order:
//
//  1. unknown assigner role
//  2. unknown target role
//  3. owner role can only be assigned by owners, whatever else is granted
//  4. admin emails may always be given the admin role
//  5. assigner needs roles.assign
//  6. assigner level must be >= target level
//
// CanAssign and CanManage are always reported, even when an earlier rule decides.
func (m *RoleManager) ValidateRoleAssignment(assignerRole, targetRole, targetEmail string) RoleAssignmentValidation {
	if _, ok := m.catalog.roles[assignerRole]; !ok {
		return RoleAssignmentValidation{Reason: ReasonAssignerRoleMissing}
	}
	if _, ok := m.catalog.roles[targetRole]; !ok {
		return RoleAssignmentValidation{Reason: ReasonTargetRoleMissing}
	}

	v := RoleAssignmentValidation{
		CanManage: m.CanManageRole(assignerRole, targetRole),
		CanAssign: m.RoleHasPermission(assignerRole, PermRolesAssign),
	}

	switch {
	case targetRole == RoleOwner && assignerRole != RoleOwner:
		v.Reason = ReasonOwnerOnly
	case targetRole == RoleAdmin && m.IsAdminEmail(targetEmail):
		v.Valid = true
		v.Reason = ReasonAdminEmailAutoAdmin
	case !v.CanAssign:
		v.Reason = ReasonCannotAssign
	case !v.CanManage:
		v.Reason = ReasonCannotManageLevel
	default:
		v.Valid = true
		v.Reason = ReasonAssignmentValid
	}
	return v
}
