package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"carebase.org/internal/auth"
	"carebase.org/internal/claims"
	"carebase.org/internal/scope"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth reconstructs the principal from the token claims. The grant set
// was computed at issuance; no per-request permission lookup happens here.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		c, err := claims.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, claims.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		principal := auth.Principal{
			UserID:        c.Subject,
			TenantID:      c.TenantID,
			TenantType:    c.TenantType,
			Grants:        c.EffectivePermissions,
			UnitID:        c.CurrentUnitID,
			UnitScope:     c.CurrentUnitScope,
			AccessBlocked: c.AccessBlocked,
			BlockReason:   c.AccessBlockReason,
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission enforces one permission at a target scope. An empty target
// falls back to the principal's current unit scope.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, permission string, target scope.Path) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if principal.AccessBlocked {
		writeError(w, r, http.StatusForbidden, "access blocked: "+principal.BlockReason)
		return false
	}
	if target.IsZero() {
		target = principal.UnitScope
	}
	if !principal.Can(permission, target) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
