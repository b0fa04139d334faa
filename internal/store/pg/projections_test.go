package pg

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"carebase.org/internal/event"
)

// Replaying a fact must converge: the handler emits the same upsert with the
// same arguments, and on-conflict resolution leaves the row unchanged.
func TestProjectionReplayConverges(t *testing.T) {
	store, mock := newMockStore(t)

	createdAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	payload := json.RawMessage(`{"name":"Acme Care","type":"provider","scope_path":"acme"}`)

	for i, id := range []string{"ev-a1", "ev-a2"} {
		ev := &event.Event{
			ID:         id,
			StreamType: event.StreamOrganization,
			StreamID:   "org-1",
			Type:       event.TypeOrganizationCreated,
			Data:       payload,
			Metadata:   json.RawMessage(`{}`),
			CreatedAt:  createdAt,
		}

		mock.ExpectBegin()
		mock.ExpectExec("insert into events").
			WithArgs(id, "organization", "org-1", "organization.created", sqlmock.AnyArg(), sqlmock.AnyArg(), createdAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("insert into organizations").
			WithArgs("org-1", "Acme Care", "provider", "acme", createdAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("release savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("update events set processed_at").
			WithArgs(id, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := store.AppendAndProject(context.Background(), ev); err != nil {
			t.Fatalf("apply %d: %v", i+1, err)
		}
		if !ev.Processed() {
			t.Fatalf("apply %d: expected processed event, got %q", i+1, ev.ProcessingError)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// A new grant stream for a user/organization pair takes over the existing row,
// so a revoke addressed to the new stream finds it.
func TestAccessGrantRevokeFollowsLatestGrantStream(t *testing.T) {
	store, mock := newMockStore(t)

	createdAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	windowSet := &event.Event{
		ID:         "ev-g1",
		StreamType: event.StreamAccessGrant,
		StreamID:   "grant-2",
		Type:       event.TypeAccessGrantWindowSet,
		Data:       json.RawMessage(`{"user_id":"u1","organization_id":"org-1","starts_at":"2026-04-01T00:00:00Z"}`),
		Metadata:   json.RawMessage(`{}`),
		CreatedAt:  createdAt,
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into events").
		WithArgs("ev-g1", "access_grant", "grant-2", "access_grant.window_set", sqlmock.AnyArg(), sqlmock.AnyArg(), createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
	// The conflict branch must adopt the incoming stream id, otherwise the
	// row keeps the id of the first grant stream forever.
	mock.ExpectExec("insert into organization_access .* set id = excluded.id").
		WithArgs("grant-2", "u1", "org-1", sqlmock.AnyArg(), sqlmock.AnyArg(), createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("release savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update events set processed_at").
		WithArgs("ev-g1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AppendAndProject(context.Background(), windowSet); err != nil {
		t.Fatalf("window_set append: %v", err)
	}
	if !windowSet.Processed() {
		t.Fatalf("expected processed window_set, got %q", windowSet.ProcessingError)
	}

	revoked := &event.Event{
		ID:         "ev-g2",
		StreamType: event.StreamAccessGrant,
		StreamID:   "grant-2",
		Type:       event.TypeAccessGrantRevoked,
		Data:       json.RawMessage(`{}`),
		Metadata:   json.RawMessage(`{}`),
		CreatedAt:  createdAt.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into events").
		WithArgs("ev-g2", "access_grant", "grant-2", "access_grant.revoked", sqlmock.AnyArg(), sqlmock.AnyArg(), revoked.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update organization_access set status").
		WithArgs("grant-2", "revoked", revoked.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("release savepoint projection").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update events set processed_at").
		WithArgs("ev-g2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AppendAndProject(context.Background(), revoked); err != nil {
		t.Fatalf("revoke append: %v", err)
	}
	if !revoked.Processed() {
		t.Fatalf("expected processed revoke, got %q", revoked.ProcessingError)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
