package models

import (
	"fmt"
	"regexp"
)

// Role is a crew or shore role carried on the caller's credential.
type Role string

const (
	RoleCrew          Role = "crew"
	RoleEngineer      Role = "engineer"
	RoleChiefEngineer Role = "chief_engineer"
	RoleCaptain       Role = "captain"
	RoleShoreManager  Role = "shore_manager"
	RoleAuditor       Role = "auditor"
)

var knownRoles = map[Role]struct{}{
	RoleCrew:          {},
	RoleEngineer:      {},
	RoleChiefEngineer: {},
	RoleCaptain:       {},
	RoleShoreManager:  {},
	RoleAuditor:       {},
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidIdentifier reports whether s is usable as a tenant or actor id.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// TenantScope binds a request to one tenant, actor and role. It is built
// from a verified credential and is the only source of the tenant predicate.
type TenantScope struct {
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
	Role     Role   `json:"role"`
}

func (s TenantScope) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant is required")
	}
	if !ValidIdentifier(s.TenantID) {
		return fmt.Errorf("tenant id %q is malformed", s.TenantID)
	}
	if s.ActorID == "" || !ValidIdentifier(s.ActorID) {
		return fmt.Errorf("actor id is missing or malformed")
	}
	if !s.Role.Valid() {
		return fmt.Errorf("unknown role %q", s.Role)
	}
	return nil
}
