package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"carebase.org/internal/scope"
)

// Engine computes the deduplicated effective-permission set for a principal
// within a tenant. It is a pure read over current projection state; results
// are recomputed fresh on every call.
type Engine struct {
	store Store
	now   func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine over the given read models.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureBuiltins seeds the permission catalog and implication table.
func (e *Engine) EnsureBuiltins(ctx context.Context) error {
	return e.store.Ensure(ctx, BuiltinPermissions, BuiltinImplications)
}

// Compute resolves the minimal (permission, scope) grant set for the user
// within the organization. Output ordering is deterministic regardless of
// input ordering.
func (e *Engine) Compute(ctx context.Context, userID, organizationID string) (GrantSet, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return nil, fmt.Errorf("%w: user_id and organization_id are required", ErrInvalidInput)
	}

	// Platform super-administrators bypass the passes entirely: full catalog
	// at the tenant root, never encoded as artificially wide role grants.
	super, err := e.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return nil, err
	}
	if super {
		return e.superAdminGrants(ctx, organizationID)
	}

	assignments, err := e.store.Assignments(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}

	// Pass 1: collect one tuple per (valid assignment x granted permission).
	now := e.now().UTC()
	collected := GrantSet{}
	for _, a := range assignments {
		if !a.ValidAt(now) {
			continue
		}
		perms, err := e.store.PermissionsForRole(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			collected = append(collected, EffectivePermission{Permission: p.Key, Scope: a.Scope})
		}
	}
	if len(collected) == 0 {
		return GrantSet{}, nil
	}

	// Pass 2: widest scope wins per permission.
	collected = collapseWidest(collected)

	// Pass 3: expand implications one level; the implied permission inherits
	// the implying grant's scope.
	imps, err := e.store.Implications(ctx)
	if err != nil {
		return nil, err
	}
	collected = append(collected, expandImplications(collected, imps)...)

	// Pass 4: implied grants may dominate direct ones, so collapse again.
	collected = collapseWidest(collected)

	sortGrants(collected)
	return collected, nil
}

func (e *Engine) superAdminGrants(ctx context.Context, organizationID string) (GrantSet, error) {
	root, err := e.store.OrganizationScope(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	catalog, err := e.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	grants := make(GrantSet, 0, len(catalog))
	for _, p := range catalog {
		grants = append(grants, EffectivePermission{Permission: p.Key, Scope: root})
	}
	sortGrants(grants)
	return grants, nil
}

// collapseWidest drops every tuple whose scope is strictly contained by
// another tuple's scope for the same permission. Unrelated scopes both
// survive: only true ancestor/descendant containment discards an entry.
func collapseWidest(grants GrantSet) GrantSet {
	byPerm := make(map[string][]scope.Path, len(grants))
	order := make([]string, 0, len(grants))
	for _, g := range grants {
		if _, seen := byPerm[g.Permission]; !seen {
			order = append(order, g.Permission)
		}
		byPerm[g.Permission] = append(byPerm[g.Permission], g.Scope)
	}

	out := make(GrantSet, 0, len(order))
	for _, perm := range order {
		scopes := byPerm[perm]
		for i, s := range scopes {
			dominated := false
			for j, other := range scopes {
				if i == j || s == other {
					continue
				}
				if other.Contains(s) {
					dominated = true
					break
				}
			}
			if dominated || containsScope(out, perm, s) {
				continue
			}
			out = append(out, EffectivePermission{Permission: perm, Scope: s})
		}
	}
	return out
}

// expandImplications synthesizes implied tuples from surviving grants.
// Single pass only: an implied permission never implies further.
func expandImplications(grants GrantSet, imps []Implication) GrantSet {
	byImplying := make(map[string][]string, len(imps))
	for _, imp := range imps {
		byImplying[imp.Implying] = append(byImplying[imp.Implying], imp.Implied)
	}
	var extra GrantSet
	for _, g := range grants {
		for _, implied := range byImplying[g.Permission] {
			extra = append(extra, EffectivePermission{Permission: implied, Scope: g.Scope})
		}
	}
	return extra
}

func containsScope(grants GrantSet, perm string, s scope.Path) bool {
	for _, g := range grants {
		if g.Permission == perm && g.Scope == s {
			return true
		}
	}
	return false
}

func sortGrants(grants GrantSet) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Permission != grants[j].Permission {
			return grants[i].Permission < grants[j].Permission
		}
		return grants[i].Scope < grants[j].Scope
	})
}
