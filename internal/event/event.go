package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// StreamType identifies the entity family an event belongs to.
type StreamType string

// Type identifies a concrete event within a stream type, e.g. "invitation.sent".
type Type string

const (
	StreamOrganization     StreamType = "organization"
	StreamOrganizationUnit StreamType = "organization_unit"
	StreamUser             StreamType = "user"
	StreamRole             StreamType = "role"
	StreamInvitation       StreamType = "invitation"
	StreamAccessGrant      StreamType = "access_grant"
	StreamContact          StreamType = "contact"
	StreamAddress          StreamType = "address"
	StreamPhone            StreamType = "phone"
	StreamEmail            StreamType = "email"
)

const (
	TypeOrganizationCreated     Type = "organization.created"
	TypeOrganizationUpdated     Type = "organization.updated"
	TypeOrganizationDeactivated Type = "organization.deactivated"

	TypeOrganizationUnitCreated  Type = "organization_unit.created"
	TypeOrganizationUnitUpdated  Type = "organization_unit.updated"
	TypeOrganizationUnitArchived Type = "organization_unit.archived"

	TypeUserCreated     Type = "user.created"
	TypeUserUpdated     Type = "user.updated"
	TypeUserInvited     Type = "user.invited"
	TypeUserDeactivated Type = "user.deactivated"

	TypeRoleCreated           Type = "role.created"
	TypeRoleUpdated           Type = "role.updated"
	TypeRoleDeactivated       Type = "role.deactivated"
	TypeRolePermissionGranted Type = "role.permission_granted"
	TypeRolePermissionRevoked Type = "role.permission_revoked"

	TypeInvitationSent     Type = "invitation.sent"
	TypeInvitationAccepted Type = "invitation.accepted"
	TypeInvitationResent   Type = "invitation.resent"
	TypeInvitationRevoked  Type = "invitation.revoked"

	TypeAccessGrantCreated   Type = "access_grant.created"
	TypeAccessGrantRevoked   Type = "access_grant.revoked"
	TypeAccessGrantWindowSet Type = "access_grant.window_set"

	TypeContactCreated  Type = "contact.created"
	TypeContactUpdated  Type = "contact.updated"
	TypeContactArchived Type = "contact.archived"

	TypeAddressCreated  Type = "address.created"
	TypeAddressUpdated  Type = "address.updated"
	TypeAddressArchived Type = "address.archived"

	TypePhoneCreated  Type = "phone.created"
	TypePhoneUpdated  Type = "phone.updated"
	TypePhoneArchived Type = "phone.archived"

	TypeEmailCreated  Type = "email.created"
	TypeEmailUpdated  Type = "email.updated"
	TypeEmailArchived Type = "email.archived"
)

// registry maps each stream type to the event types its handler understands.
// An event outside this table never reaches the store.
var registry = map[StreamType][]Type{
	StreamOrganization: {
		TypeOrganizationCreated, TypeOrganizationUpdated, TypeOrganizationDeactivated,
	},
	StreamOrganizationUnit: {
		TypeOrganizationUnitCreated, TypeOrganizationUnitUpdated, TypeOrganizationUnitArchived,
	},
	StreamUser: {
		TypeUserCreated, TypeUserUpdated, TypeUserInvited, TypeUserDeactivated,
	},
	StreamRole: {
		TypeRoleCreated, TypeRoleUpdated, TypeRoleDeactivated,
		TypeRolePermissionGranted, TypeRolePermissionRevoked,
	},
	StreamInvitation: {
		TypeInvitationSent, TypeInvitationAccepted, TypeInvitationResent, TypeInvitationRevoked,
	},
	StreamAccessGrant: {
		TypeAccessGrantCreated, TypeAccessGrantRevoked, TypeAccessGrantWindowSet,
	},
	StreamContact: {TypeContactCreated, TypeContactUpdated, TypeContactArchived},
	StreamAddress: {TypeAddressCreated, TypeAddressUpdated, TypeAddressArchived},
	StreamPhone:   {TypePhoneCreated, TypePhoneUpdated, TypePhoneArchived},
	StreamEmail:   {TypeEmailCreated, TypeEmailUpdated, TypeEmailArchived},
}

// Validate checks a (stream type, event type) pair against the registry.
// Unknown stream types and unknown event types for a known stream are both
// fatal; they indicate schema drift, never data to be swallowed.
func Validate(streamType StreamType, eventType Type) error {
	types, ok := registry[streamType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStreamType, streamType)
	}
	for _, known := range types {
		if known == eventType {
			return nil
		}
	}
	return fmt.Errorf("%w: %q for stream %q", ErrUnknownEventType, eventType, streamType)
}

// KnownStreamTypes returns the registered stream types in sorted order.
func KnownStreamTypes() []StreamType {
	out := make([]StreamType, 0, len(registry))
	for st := range registry {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Event is an immutable domain fact. Data, Type and StreamID never change
// after insert; ProcessedAt is set exactly once on successful projection,
// ProcessingError is recorded instead when the projection handler fails.
type Event struct {
	ID              string          `json:"id"`
	StreamType      StreamType      `json:"stream_type"`
	StreamID        string          `json:"stream_id"`
	Type            Type            `json:"event_type"`
	Data            json.RawMessage `json:"event_data"`
	Metadata        json.RawMessage `json:"event_metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError string          `json:"processing_error,omitempty"`
}

// Processed reports whether the projection applied cleanly.
func (e *Event) Processed() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
