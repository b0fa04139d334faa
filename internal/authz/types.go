package authz

import (
	"time"

	"carebase.org/internal/scope"
)

// Role groups permissions. A role with an empty OrganizationID is
// platform-wide; all others belong to a single tenant.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Permission scope types.
const (
	ScopeTypeGlobal = "global"
	ScopeTypeOrg    = "org"
)

// Permission is an immutable catalog entry.
type Permission struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	ScopeType   string `json:"scope_type"`
}

// RoleAssignment binds a user to a role at a scope for a validity window.
// Nil bounds are open-ended.
type RoleAssignment struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	Scope      scope.Path `json:"scope"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// ValidAt reports whether the assignment is active at the given instant.
func (a RoleAssignment) ValidAt(t time.Time) bool {
	if a.ValidFrom != nil && t.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && t.After(*a.ValidUntil) {
		return false
	}
	return true
}

// Implication declares that holding Implying confers Implied at the same
// scope. Implications are one level deep; no transitive closure is computed.
type Implication struct {
	Implying string `json:"implying"`
	Implied  string `json:"implied"`
}

// EffectivePermission is one deduplicated (permission, scope) grant.
type EffectivePermission struct {
	Permission string     `json:"permission"`
	Scope      scope.Path `json:"scope"`
}

// GrantSet is the computed, token-embeddable set of effective permissions.
type GrantSet []EffectivePermission
