package security

import (
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/models"
)

// Claims are the verified facts about a caller.
type Claims struct {
	Subject  string        `json:"sub"`
	TenantID string        `json:"tenant_id"`
	Roles    []models.Role `json:"roles"`
}

// rolePrecedence picks the default role when a caller holds several.
var rolePrecedence = []models.Role{
	models.RoleShoreManager,
	models.RoleCaptain,
	models.RoleChiefEngineer,
	models.RoleEngineer,
	models.RoleCrew,
	models.RoleAuditor,
}

// HasRole reports whether the credential grants r.
func (c *Claims) HasRole(r models.Role) bool {
	for _, held := range c.Roles {
		if held == r {
			return true
		}
	}
	return false
}

// PrimaryRole is the highest-precedence role the credential grants.
func (c *Claims) PrimaryRole() (models.Role, bool) {
	for _, r := range rolePrecedence {
		if c.HasRole(r) {
			return r, true
		}
	}
	return "", false
}

// BindScope builds the tenant scope for a request. The tenant always comes
// from the credential; a requested tenant is only compared against it.
// requestedRole narrows the scope to one of the credential's roles.
func BindScope(claims *Claims, requestedTenant string, requestedRole models.Role) (models.TenantScope, error) {
	if claims == nil || claims.TenantID == "" {
		return models.TenantScope{}, errors.NewAccessDeniedError("credential carries no tenant")
	}
	if requestedTenant != "" && requestedTenant != claims.TenantID {
		return models.TenantScope{}, errors.NewTenantMismatchError()
	}

	role := requestedRole
	if role == "" {
		primary, ok := claims.PrimaryRole()
		if !ok {
			return models.TenantScope{}, errors.NewAccessDeniedError("credential carries no known role")
		}
		role = primary
	} else if !claims.HasRole(role) {
		return models.TenantScope{}, errors.NewAccessDeniedError("credential does not grant role " + string(role))
	}

	scope := models.TenantScope{TenantID: claims.TenantID, ActorID: claims.Subject, Role: role}
	if err := scope.Validate(); err != nil {
		return models.TenantScope{}, errors.NewAccessDeniedError(err.Error())
	}
	return scope, nil
}
