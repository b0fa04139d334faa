package authz

import "carebase.org/internal/scope"

// Authorize reports whether the grant set allows the required permission at
// the target scope: some entry must match the permission exactly and its
// scope must contain the target. The predicate is pure; it evaluates a
// precomputed grant set and never consults accountability data.
func Authorize(grants GrantSet, permission string, target scope.Path) bool {
	if permission == "" || target.IsZero() {
		return false
	}
	for _, g := range grants {
		if g.Permission == permission && g.Scope.Contains(target) {
			return true
		}
	}
	return false
}
