package authz

import (
	"context"

	"carebase.org/internal/scope"
)

// Store describes the read models the effective-permissions engine consumes.
// All reads reflect current projection state at call time; the engine holds
// no cache across invocations.
type Store interface {
	// Assignments returns every role assignment of the user within the
	// organization, including ones outside their validity window. Temporal
	// filtering is the engine's job so it stays testable against a clock.
	Assignments(ctx context.Context, userID, organizationID string) ([]RoleAssignment, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	Implications(ctx context.Context) ([]Implication, error)
	Catalog(ctx context.Context) ([]Permission, error)
	IsSuperAdmin(ctx context.Context, userID string) (bool, error)
	OrganizationScope(ctx context.Context, organizationID string) (scope.Path, error)
	// Ensure seeds the builtin permission catalog and implication table.
	Ensure(ctx context.Context, perms []Permission, imps []Implication) error
}
