package pg

import (
	"context"
	"database/sql"
	"errors"

	"carebase.org/internal/claims"
	"carebase.org/internal/scope"
)

func (s *Store) UserByEmail(ctx context.Context, email string) (*claims.User, error) {
	var (
		u    claims.User
		hash sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, email, password_hash, status
		from users
		where lower(email) = lower($1)
	`, email).Scan(&u.ID, &u.OrganizationID, &u.Email, &hash, &u.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, claims.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		u.PasswordHash = hash.String
	}
	return &u, nil
}

// AccessWindow reads the user's tenant-access record. Home-organization
// membership needs no explicit grant row; cross-tenant access does.
func (s *Store) AccessWindow(ctx context.Context, userID, organizationID string) (claims.AccessWindow, error) {
	var (
		startsAt sql.NullTime
		endsAt   sql.NullTime
		status   string
	)
	err := s.db.QueryRowContext(ctx, `
		select starts_at, ends_at, status
		from organization_access
		where user_id = $1 and organization_id = $2
	`, userID, organizationID).Scan(&startsAt, &endsAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		var home string
		err := s.db.QueryRowContext(ctx, `select organization_id from users where id = $1`, userID).Scan(&home)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && home != organizationID) {
			return claims.AccessWindow{}, claims.ErrNoTenantAccess
		}
		if err != nil {
			return claims.AccessWindow{}, err
		}
		return claims.AccessWindow{}, nil
	}
	if err != nil {
		return claims.AccessWindow{}, err
	}
	if status == "revoked" {
		return claims.AccessWindow{}, claims.ErrNoTenantAccess
	}

	var w claims.AccessWindow
	if startsAt.Valid {
		t := startsAt.Time
		w.Start = &t
	}
	if endsAt.Valid {
		t := endsAt.Time
		w.End = &t
	}
	return w, nil
}

// TenantContext resolves the organization type and the user's current unit.
// When the user has no unit, the unit scope falls back to the tenant root so
// every token carries a usable authorization target.
func (s *Store) TenantContext(ctx context.Context, userID, organizationID string) (*claims.TenantContext, error) {
	var (
		tc        claims.TenantContext
		orgScope  string
		unitID    sql.NullString
		unitScope sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select o.id, o.org_type, o.scope_path, u.unit_id, ou.scope_path
		from organizations o
		left join users u on u.id = $1
		left join organization_units ou on ou.id = u.unit_id and ou.organization_id = o.id
		where o.id = $2
	`, userID, organizationID).Scan(&tc.OrganizationID, &tc.Type, &orgScope, &unitID, &unitScope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, claims.ErrNoTenantAccess
	}
	if err != nil {
		return nil, err
	}

	tc.UnitScope = scope.Path(orgScope)
	if unitID.Valid && unitScope.Valid {
		tc.UnitID = unitID.String
		tc.UnitScope = scope.Path(unitScope.String)
	}
	return &tc, nil
}
