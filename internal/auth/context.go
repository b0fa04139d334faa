package auth

import (
	"context"

	"carebase.org/internal/authz"
	"carebase.org/internal/scope"
)

// Principal is the authenticated identity reconstructed from token claims.
// Its grant set was computed at issuance time; access policies evaluate it
// without recomputing permissions.
type Principal struct {
	UserID        string
	TenantID      string
	TenantType    string
	Grants        authz.GrantSet
	UnitID        string
	UnitScope     scope.Path
	AccessBlocked bool
	BlockReason   string
}

// Can reports whether the principal holds the permission at the target scope.
func (p Principal) Can(permission string, target scope.Path) bool {
	if p.AccessBlocked {
		return false
	}
	return authz.Authorize(p.Grants, permission, target)
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// UserIDFromContext returns the authenticated user's id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}
