package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carebase.org/internal/authz"
	"carebase.org/internal/ids"
	"carebase.org/internal/scope"
)

// Assignments returns every role assignment of the user in the organization,
// including expired and not-yet-valid ones. Validity filtering belongs to the
// engine.
func (s *Store) Assignments(ctx context.Context, userID, organizationID string) ([]authz.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, scope_path, valid_from, valid_until
		from user_role_assignments
		where user_id = $1 and organization_id = $2
		order by role_id, scope_path
	`, userID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []authz.RoleAssignment
	for rows.Next() {
		var (
			a          authz.RoleAssignment
			scopePath  string
			validFrom  sql.NullTime
			validUntil sql.NullTime
		)
		if err := rows.Scan(&a.UserID, &a.RoleID, &scopePath, &validFrom, &validUntil); err != nil {
			return nil, err
		}
		a.Scope = scope.Path(scopePath)
		if validFrom.Valid {
			t := validFrom.Time
			a.ValidFrom = &t
		}
		if validUntil.Valid {
			t := validUntil.Time
			a.ValidUntil = &t
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.key, coalesce(p.description, ''), p.scope_type
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) Implications(ctx context.Context) ([]authz.Implication, error) {
	rows, err := s.db.QueryContext(ctx, `
		select implying.key, implied.key
		from permission_implications pi
		join permissions implying on implying.id = pi.implying_permission_id
		join permissions implied on implied.id = pi.implied_permission_id
		order by implying.key, implied.key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imps []authz.Implication
	for rows.Next() {
		var imp authz.Implication
		if err := rows.Scan(&imp.Implying, &imp.Implied); err != nil {
			return nil, err
		}
		imps = append(imps, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return imps, nil
}

func (s *Store) Catalog(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, key, coalesce(description, ''), scope_type
		from permissions
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	var super bool
	err := s.db.QueryRowContext(ctx, `select super_admin from users where id = $1`, userID).Scan(&super)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return super, nil
}

func (s *Store) OrganizationScope(ctx context.Context, organizationID string) (scope.Path, error) {
	var scopePath string
	err := s.db.QueryRowContext(ctx, `select scope_path from organizations where id = $1`, organizationID).Scan(&scopePath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: organization %s", authz.ErrNotFound, organizationID)
	}
	if err != nil {
		return "", err
	}
	return scope.Path(scopePath), nil
}

// Ensure seeds the builtin permission catalog and implication table. Existing
// rows are updated in place so key semantics stay stable across restarts.
func (s *Store) Ensure(ctx context.Context, perms []authz.Permission, imps []authz.Implication) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, perm := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, key, description, scope_type)
			values ($1, $2, $3, $4)
			on conflict (key) do update
			set description = excluded.description, scope_type = excluded.scope_type
		`, ids.New(), perm.Key, nullIfEmpty(perm.Description), perm.ScopeType); err != nil {
			return err
		}
	}
	for _, imp := range imps {
		if _, err := tx.ExecContext(ctx, `
			insert into permission_implications (implying_permission_id, implied_permission_id)
			select implying.id, implied.id
			from permissions implying, permissions implied
			where implying.key = $1 and implied.key = $2
			on conflict do nothing
		`, imp.Implying, imp.Implied); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func collectPermissions(rows *sql.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.ScopeType); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
