package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carebase.org/internal/audit"
	"carebase.org/internal/auth"
	"carebase.org/internal/authz"
	"carebase.org/internal/obs"
)

const defaultTokenTTL = 15 * time.Minute

// Terminal states of one issuance call.
const (
	OutcomeNormal        = "claims-emitted-normal"
	OutcomeBlocked       = "claims-emitted-blocked"
	OutcomeErrorFallback = "claims-emitted-error-fallback"
)

// Token is a signed claims payload with its expiry and terminal state.
type Token struct {
	Value     string
	ExpiresAt time.Time
	Outcome   string
}

// Issuer computes effective permissions at token issuance and serializes
// them into the token. It runs once per issuance, not per request.
type Issuer struct {
	store  Store
	engine *authz.Engine
	now    func() time.Time
	ttl    time.Duration
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithTokenTTL overrides the access-token lifetime.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(store Store, engine *authz.Engine, opts ...IssuerOption) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("claims store is required")
	}
	if engine == nil {
		return nil, errors.New("effective-permissions engine is required")
	}
	i := &Issuer{store: store, engine: engine, now: time.Now, ttl: defaultTokenTTL}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssueWithCredentials authenticates the user and issues a token for the
// organization (defaulting to the user's home organization). Credential
// failures are hard errors; only post-authentication claims computation
// degrades gracefully.
func (i *Issuer) IssueWithCredentials(ctx context.Context, email, password, organizationID string) (Token, *Claims, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Token{}, nil, ErrUnauthorized
	}
	user, err := i.store.UserByEmail(ctx, email)
	if err != nil {
		return Token{}, nil, ErrUnauthorized
	}
	if user.Status != "active" {
		return Token{}, nil, ErrUnauthorized
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return Token{}, nil, ErrUnauthorized
	}
	if strings.TrimSpace(organizationID) == "" {
		organizationID = user.OrganizationID
	}
	return i.Issue(ctx, user.ID, organizationID)
}

// Issue runs the issuance state machine:
//
//	validate-access-window -> blocked: emit minimal claims
//	                       -> ok: resolve tenant context -> compute grants -> serialize
//
// Internal failures after authentication emit an empty grant set marked with
// an error reason instead of failing the login; a broken claims computation
// must never block authentication, and must never grant access either.
func (i *Issuer) Issue(ctx context.Context, userID, organizationID string) (Token, *Claims, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return Token{}, nil, fmt.Errorf("%w: user and organization are required", ErrUnauthorized)
	}

	start := time.Now()
	token, claims, err := i.issue(ctx, userID, organizationID)
	if err != nil {
		obs.ObserveClaimsIssuance(OutcomeErrorFallback, time.Since(start).Seconds())
		return Token{}, nil, err
	}
	obs.ObserveClaimsIssuance(token.Outcome, time.Since(start).Seconds())
	_ = audit.LogEvent(ctx, "claims.issued", map[string]any{
		"user_id":   userID,
		"tenant_id": organizationID,
		"outcome":   token.Outcome,
		"grants":    len(claims.EffectivePermissions),
	})
	return token, claims, nil
}

func (i *Issuer) issue(ctx context.Context, userID, organizationID string) (Token, *Claims, error) {
	now := i.now().UTC()

	window, err := i.store.AccessWindow(ctx, userID, organizationID)
	if errors.Is(err, ErrNoTenantAccess) {
		return i.sign(i.blockedClaims(userID, organizationID, BlockReasonNoAccess, now), OutcomeBlocked, now)
	}
	if err != nil {
		return i.sign(i.blockedClaims(userID, organizationID, BlockReasonIssuanceError, now), OutcomeErrorFallback, now)
	}
	if !window.ActiveAt(now) {
		return i.sign(i.blockedClaims(userID, organizationID, BlockReasonAccessWindow, now), OutcomeBlocked, now)
	}

	tc, err := i.store.TenantContext(ctx, userID, organizationID)
	if err != nil {
		return i.sign(i.blockedClaims(userID, organizationID, BlockReasonIssuanceError, now), OutcomeErrorFallback, now)
	}
	grants, err := i.engine.Compute(ctx, userID, organizationID)
	if err != nil {
		return i.sign(i.blockedClaims(userID, organizationID, BlockReasonIssuanceError, now), OutcomeErrorFallback, now)
	}

	claims := &Claims{
		TenantID:             organizationID,
		TenantType:           tc.Type,
		EffectivePermissions: grants,
		CurrentUnitID:        tc.UnitID,
		CurrentUnitScope:     tc.UnitScope,
		RegisteredClaims:     i.registered(userID, now),
	}
	return i.sign(claims, OutcomeNormal, now)
}

func (i *Issuer) blockedClaims(userID, organizationID, reason string, now time.Time) *Claims {
	return &Claims{
		TenantID:             organizationID,
		EffectivePermissions: authz.GrantSet{},
		AccessBlocked:        true,
		AccessBlockReason:    reason,
		RegisteredClaims:     i.registered(userID, now),
	}
}

func (i *Issuer) registered(userID string, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}
}

func (i *Issuer) sign(claims *Claims, outcome string, now time.Time) (Token, *Claims, error) {
	secretBytes, err := loadSecret()
	if err != nil {
		return Token{}, nil, err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return Token{}, nil, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: now.Add(i.ttl), Outcome: outcome}, claims, nil
}
