package claims

import (
	"context"
	"errors"
	"time"

	"carebase.org/internal/scope"
)

// ErrNoTenantAccess indicates the user has no access record for the tenant.
var ErrNoTenantAccess = errors.New("claims: no tenant access")

// ErrUnauthorized indicates credential verification failed.
var ErrUnauthorized = errors.New("claims: unauthorized")

// User is the projection row the issuer authenticates against.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	PasswordHash   string
	Status         string
}

// AccessWindow is the tenant-access date range for a user. Nil bounds are
// open-ended.
type AccessWindow struct {
	Start *time.Time
	End   *time.Time
}

// ActiveAt reports whether the window admits the given instant.
func (w AccessWindow) ActiveAt(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// TenantContext is the minimal tenant/unit context serialized into claims.
type TenantContext struct {
	OrganizationID string
	Type           string
	UnitID         string
	// UnitScope is the user's current unit scope, defaulting to the tenant
	// root when no unit is set.
	UnitScope scope.Path
}

// Store describes the projections the issuer reads at token issuance.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*User, error)
	// AccessWindow returns ErrNoTenantAccess when the user has no access
	// record for the organization.
	AccessWindow(ctx context.Context, userID, organizationID string) (AccessWindow, error)
	TenantContext(ctx context.Context, userID, organizationID string) (*TenantContext, error)
}
