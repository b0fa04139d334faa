package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"carebase.org/internal/event"
)

// applyProjection dispatches one event to the handler for its stream type.
// Handlers are idempotent upserts so a retry after a fixed precondition (for
// example a parent row that arrived late) converges to the same state. Any
// error returned here is recorded on the event, never propagated as a
// transaction failure.
func applyProjection(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	// Rows written before a type was retired can resurface via retry.
	if err := event.Validate(ev.StreamType, ev.Type); err != nil {
		return err
	}
	switch ev.StreamType {
	case event.StreamOrganization:
		return projectOrganization(ctx, tx, ev)
	case event.StreamOrganizationUnit:
		return projectOrganizationUnit(ctx, tx, ev)
	case event.StreamUser:
		return projectUser(ctx, tx, ev)
	case event.StreamRole:
		return projectRole(ctx, tx, ev)
	case event.StreamInvitation:
		return projectInvitation(ctx, tx, ev)
	case event.StreamAccessGrant:
		return projectAccessGrant(ctx, tx, ev)
	case event.StreamContact:
		return projectContact(ctx, tx, ev)
	case event.StreamAddress:
		return projectAddress(ctx, tx, ev)
	case event.StreamPhone:
		return projectPhone(ctx, tx, ev)
	case event.StreamEmail:
		return projectEmail(ctx, tx, ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownStreamType, ev.StreamType)
}

func decodePayload(ev *event.Event, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return nil
}

// softenConstraint translates referential failures into handler errors that
// read well in processing_error and on the admin listing.
func softenConstraint(err error, subject string) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%s references a missing row: %s", subject, pgErr.Detail)
		case pgErrUniqueViolation:
			return fmt.Errorf("%s conflicts with an existing row: %s", subject, pgErr.Detail)
		}
	}
	return err
}

func projectOrganization(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeOrganizationCreated, event.TypeOrganizationUpdated:
		var p struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			ScopePath string `json:"scope_path"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.Name == "" || p.ScopePath == "" {
			return fmt.Errorf("%s requires name and scope_path", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into organizations (id, name, org_type, scope_path, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'active', $5, $5)
			on conflict (id) do update
			set name = excluded.name, org_type = excluded.org_type,
			    scope_path = excluded.scope_path, updated_at = excluded.updated_at
		`, ev.StreamID, p.Name, p.Type, p.ScopePath, ev.CreatedAt)
		return softenConstraint(err, "organization")
	case event.TypeOrganizationDeactivated:
		return markStatus(ctx, tx, "organizations", ev.StreamID, "inactive", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectOrganizationUnit(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeOrganizationUnitCreated, event.TypeOrganizationUnitUpdated:
		var p struct {
			OrganizationID string `json:"organization_id"`
			Name           string `json:"name"`
			ScopePath      string `json:"scope_path"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.OrganizationID == "" || p.ScopePath == "" {
			return fmt.Errorf("%s requires organization_id and scope_path", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into organization_units (id, organization_id, name, scope_path, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'active', $5, $5)
			on conflict (id) do update
			set name = excluded.name, scope_path = excluded.scope_path, updated_at = excluded.updated_at
		`, ev.StreamID, p.OrganizationID, p.Name, p.ScopePath, ev.CreatedAt)
		return softenConstraint(err, "organization unit")
	case event.TypeOrganizationUnitArchived:
		return markStatus(ctx, tx, "organization_units", ev.StreamID, "archived", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectUser(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeUserCreated, event.TypeUserUpdated:
		var p struct {
			OrganizationID string `json:"organization_id"`
			Email          string `json:"email"`
			PasswordHash   string `json:"password_hash"`
			SuperAdmin     bool   `json:"super_admin"`
			UnitID         string `json:"unit_id"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.OrganizationID == "" || p.Email == "" {
			return fmt.Errorf("%s requires organization_id and email", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into users (id, organization_id, email, password_hash, super_admin, unit_id, status, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, 'active', $7, $7)
			on conflict (id) do update
			set email = excluded.email,
			    password_hash = coalesce(nullif(excluded.password_hash, ''), users.password_hash),
			    super_admin = excluded.super_admin,
			    unit_id = excluded.unit_id,
			    updated_at = excluded.updated_at
		`, ev.StreamID, p.OrganizationID, p.Email, p.PasswordHash, p.SuperAdmin, nullIfEmpty(p.UnitID), ev.CreatedAt)
		return softenConstraint(err, "user")
	case event.TypeUserInvited:
		return markStatus(ctx, tx, "users", ev.StreamID, "invited", ev)
	case event.TypeUserDeactivated:
		return markStatus(ctx, tx, "users", ev.StreamID, "inactive", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectRole(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeRoleCreated, event.TypeRoleUpdated:
		var p struct {
			OrganizationID string `json:"organization_id"`
			Key            string `json:"key"`
			Name           string `json:"name"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.Key == "" {
			return fmt.Errorf("%s requires key", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into roles (id, organization_id, key, name, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'active', $5, $5)
			on conflict (id) do update
			set key = excluded.key, name = excluded.name, updated_at = excluded.updated_at
		`, ev.StreamID, nullIfEmpty(p.OrganizationID), p.Key, p.Name, ev.CreatedAt)
		return softenConstraint(err, "role")
	case event.TypeRoleDeactivated:
		return markStatus(ctx, tx, "roles", ev.StreamID, "inactive", ev)
	case event.TypeRolePermissionGranted, event.TypeRolePermissionRevoked:
		var p struct {
			PermissionKey string `json:"permission_key"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, p.PermissionKey).Scan(&permID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("permission %q not found", p.PermissionKey)
		}
		if err != nil {
			return err
		}
		if ev.Type == event.TypeRolePermissionRevoked {
			_, err = tx.ExecContext(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`, ev.StreamID, permID)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2) on conflict do nothing
		`, ev.StreamID, permID)
		return softenConstraint(err, "role permission")
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectInvitation(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeInvitationSent:
		var p struct {
			OrganizationID string `json:"organization_id"`
			Email          string `json:"email"`
			RoleID         string `json:"role_id"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.OrganizationID == "" || p.Email == "" {
			return fmt.Errorf("%s requires organization_id and email", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into invitations (id, organization_id, email, role_id, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'sent', $5, $5)
			on conflict (id) do update
			set email = excluded.email, role_id = excluded.role_id, updated_at = excluded.updated_at
		`, ev.StreamID, p.OrganizationID, p.Email, nullIfEmpty(p.RoleID), ev.CreatedAt)
		return softenConstraint(err, "invitation")
	case event.TypeInvitationAccepted:
		return markStatus(ctx, tx, "invitations", ev.StreamID, "accepted", ev)
	case event.TypeInvitationResent:
		return markStatus(ctx, tx, "invitations", ev.StreamID, "sent", ev)
	case event.TypeInvitationRevoked:
		return markStatus(ctx, tx, "invitations", ev.StreamID, "revoked", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectAccessGrant(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeAccessGrantCreated, event.TypeAccessGrantWindowSet:
		var p struct {
			UserID         string  `json:"user_id"`
			OrganizationID string  `json:"organization_id"`
			StartsAt       *string `json:"starts_at"`
			EndsAt         *string `json:"ends_at"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.UserID == "" || p.OrganizationID == "" {
			return fmt.Errorf("%s requires user_id and organization_id", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into organization_access (id, user_id, organization_id, starts_at, ends_at, status, created_at, updated_at)
			values ($1, $2, $3, $4::timestamptz, $5::timestamptz, 'active', $6, $6)
			on conflict (user_id, organization_id) do update
			set id = excluded.id,
			    starts_at = excluded.starts_at, ends_at = excluded.ends_at,
			    status = 'active', updated_at = excluded.updated_at
		`, ev.StreamID, p.UserID, p.OrganizationID, p.StartsAt, p.EndsAt, ev.CreatedAt)
		return softenConstraint(err, "access grant")
	case event.TypeAccessGrantRevoked:
		return markStatus(ctx, tx, "organization_access", ev.StreamID, "revoked", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectContact(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeContactCreated, event.TypeContactUpdated:
		var p struct {
			OrganizationID string `json:"organization_id"`
			DisplayName    string `json:"display_name"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.OrganizationID == "" {
			return fmt.Errorf("%s requires organization_id", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into contacts (id, organization_id, display_name, status, created_at, updated_at)
			values ($1, $2, $3, 'active', $4, $4)
			on conflict (id) do update
			set display_name = excluded.display_name, updated_at = excluded.updated_at
		`, ev.StreamID, p.OrganizationID, p.DisplayName, ev.CreatedAt)
		return softenConstraint(err, "contact")
	case event.TypeContactArchived:
		return markStatus(ctx, tx, "contacts", ev.StreamID, "archived", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectAddress(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeAddressCreated, event.TypeAddressUpdated:
		var p struct {
			ContactID  string `json:"contact_id"`
			Line1      string `json:"line1"`
			Line2      string `json:"line2"`
			City       string `json:"city"`
			Region     string `json:"region"`
			PostalCode string `json:"postal_code"`
			Country    string `json:"country"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.ContactID == "" {
			return fmt.Errorf("%s requires contact_id", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into addresses (id, contact_id, line1, line2, city, region, postal_code, country, status, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, 'active', $9, $9)
			on conflict (id) do update
			set line1 = excluded.line1, line2 = excluded.line2, city = excluded.city,
			    region = excluded.region, postal_code = excluded.postal_code,
			    country = excluded.country, updated_at = excluded.updated_at
		`, ev.StreamID, p.ContactID, p.Line1, nullIfEmpty(p.Line2), p.City, nullIfEmpty(p.Region), nullIfEmpty(p.PostalCode), p.Country, ev.CreatedAt)
		return softenConstraint(err, "address")
	case event.TypeAddressArchived:
		return markStatus(ctx, tx, "addresses", ev.StreamID, "archived", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectPhone(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypePhoneCreated, event.TypePhoneUpdated:
		var p struct {
			ContactID string `json:"contact_id"`
			Number    string `json:"number"`
			Label     string `json:"label"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.ContactID == "" || p.Number == "" {
			return fmt.Errorf("%s requires contact_id and number", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into phones (id, contact_id, number, label, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'active', $5, $5)
			on conflict (id) do update
			set number = excluded.number, label = excluded.label, updated_at = excluded.updated_at
		`, ev.StreamID, p.ContactID, p.Number, nullIfEmpty(p.Label), ev.CreatedAt)
		return softenConstraint(err, "phone")
	case event.TypePhoneArchived:
		return markStatus(ctx, tx, "phones", ev.StreamID, "archived", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

func projectEmail(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	switch ev.Type {
	case event.TypeEmailCreated, event.TypeEmailUpdated:
		var p struct {
			ContactID string `json:"contact_id"`
			Address   string `json:"address"`
			Label     string `json:"label"`
		}
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.ContactID == "" || p.Address == "" {
			return fmt.Errorf("%s requires contact_id and address", ev.Type)
		}
		_, err := tx.ExecContext(ctx, `
			insert into emails (id, contact_id, address, label, status, created_at, updated_at)
			values ($1, $2, $3, $4, 'active', $5, $5)
			on conflict (id) do update
			set address = excluded.address, label = excluded.label, updated_at = excluded.updated_at
		`, ev.StreamID, p.ContactID, p.Address, nullIfEmpty(p.Label), ev.CreatedAt)
		return softenConstraint(err, "email")
	case event.TypeEmailArchived:
		return markStatus(ctx, tx, "emails", ev.StreamID, "archived", ev)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventType, ev.Type)
}

// markStatus is the shared lifecycle-transition projection. A missing row is a
// handler failure: the fact is durable, the projection simply cannot apply yet.
func markStatus(ctx context.Context, tx *sql.Tx, table, id, status string, ev *event.Event) error {
	res, err := tx.ExecContext(ctx,
		`update `+table+` set status = $2, updated_at = $3 where id = $1`,
		id, status, ev.CreatedAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%s %s not found", table, id)
	}
	return nil
}
