package claims

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carebase.org/internal/authz"
	"carebase.org/internal/scope"
)

const (
	tokenIssuer       = "carebase"
	secretEnvVariable = "CAREBASE_AUTH_SECRET"
)

// Access-block reason codes carried in the token.
const (
	BlockReasonAccessWindow  = "access_window"
	BlockReasonNoAccess      = "no_tenant_access"
	BlockReasonIssuanceError = "issuance_error"
)

var (
	errMissingSecret = errors.New("claims: auth secret is not configured")

	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("claims: invalid token")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// Claims is the token payload: the precomputed grant set plus minimal tenant
// and unit context. Grants are static until the token is re-issued; role
// changes take effect at the next refresh, not mid-token.
type Claims struct {
	TenantID             string         `json:"tenant_id"`
	TenantType           string         `json:"tenant_type,omitempty"`
	EffectivePermissions authz.GrantSet `json:"effective_permissions"`
	AccessBlocked        bool           `json:"access_blocked"`
	AccessBlockReason    string         `json:"access_block_reason,omitempty"`
	CurrentUnitID        string         `json:"current_unit_id,omitempty"`
	CurrentUnitScope     scope.Path     `json:"current_unit_scope,omitempty"`
	jwt.RegisteredClaims
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != tokenIssuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return errors.New("tenant missing")
	}
	if time.Now().UTC().After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
