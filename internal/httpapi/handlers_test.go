package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carebase.org/internal/accountability"
	"carebase.org/internal/auth"
	"carebase.org/internal/authz"
	"carebase.org/internal/claims"
	"carebase.org/internal/event"
	"carebase.org/internal/scope"
)

type stubEventStore struct {
	appended    []*event.Event
	failWith    string
	failedItems []event.Event
}

func (s *stubEventStore) AppendAndProject(_ context.Context, ev *event.Event) error {
	if s.failWith != "" {
		ev.ProcessingError = s.failWith
	} else {
		now := time.Now().UTC()
		ev.ProcessedAt = &now
	}
	s.appended = append(s.appended, ev)
	return nil
}

func (s *stubEventStore) Event(_ context.Context, id string) (*event.Event, error) {
	return nil, event.ErrNotFound
}

func (s *stubEventStore) FailedEvents(_ context.Context, _ event.FailedFilter) ([]event.Event, error) {
	return s.failedItems, nil
}

func (s *stubEventStore) Reprocess(_ context.Context, id string) (*event.Event, error) {
	if id == "missing" {
		return nil, event.ErrNotFound
	}
	now := time.Now().UTC()
	return &event.Event{ID: id, ProcessedAt: &now}, nil
}

type stubAuthzStore struct {
	grants map[string][]authz.Permission // roleID -> permissions
	roles  []authz.RoleAssignment
}

func (s *stubAuthzStore) Assignments(_ context.Context, _, _ string) ([]authz.RoleAssignment, error) {
	return s.roles, nil
}

func (s *stubAuthzStore) PermissionsForRole(_ context.Context, roleID string) ([]authz.Permission, error) {
	return s.grants[roleID], nil
}

func (s *stubAuthzStore) Implications(_ context.Context) ([]authz.Implication, error) {
	return nil, nil
}

func (s *stubAuthzStore) Catalog(_ context.Context) ([]authz.Permission, error) { return nil, nil }

func (s *stubAuthzStore) IsSuperAdmin(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *stubAuthzStore) OrganizationScope(_ context.Context, _ string) (scope.Path, error) {
	return "acme", nil
}

func (s *stubAuthzStore) Ensure(_ context.Context, _ []authz.Permission, _ []authz.Implication) error {
	return nil
}

type stubClaimsStore struct {
	user *claims.User
}

func (s *stubClaimsStore) UserByEmail(_ context.Context, email string) (*claims.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, claims.ErrUnauthorized
	}
	return s.user, nil
}

func (s *stubClaimsStore) AccessWindow(_ context.Context, _, _ string) (claims.AccessWindow, error) {
	return claims.AccessWindow{}, nil
}

func (s *stubClaimsStore) TenantContext(_ context.Context, _, _ string) (*claims.TenantContext, error) {
	return &claims.TenantContext{OrganizationID: "org1", Type: "provider", UnitScope: "acme"}, nil
}

type stubAccountabilityStore struct {
	byUser map[string][]accountability.Assignment
}

func (s *stubAccountabilityStore) Assign(_ context.Context, _ accountability.Assignment) error {
	return nil
}

func (s *stubAccountabilityStore) Unassign(_ context.Context, _ string, _ accountability.SubjectType, _ string) error {
	return nil
}

func (s *stubAccountabilityStore) ListForUser(_ context.Context, userID string) ([]accountability.Assignment, error) {
	return s.byUser[userID], nil
}

func (s *stubAccountabilityStore) ListForSubject(_ context.Context, _ accountability.SubjectType, _ string) ([]accountability.Assignment, error) {
	return nil, nil
}

// newTestAPI wires the full handler chain against in-memory stubs. The role
// permissions decide what the issued token can do.
func newTestAPI(t *testing.T, perms []authz.Permission) (*API, *stubEventStore) {
	t.Helper()
	t.Setenv("CAREBASE_AUTH_SECRET", "test-secret")
	claims.ResetSecretForTests()
	t.Cleanup(claims.ResetSecretForTests)

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	azStore := &stubAuthzStore{
		roles:  []authz.RoleAssignment{{UserID: "u1", RoleID: "staff", Scope: "acme"}},
		grants: map[string][]authz.Permission{"staff": perms},
	}
	engine := authz.NewEngine(azStore)
	issuer, err := claims.NewIssuer(&stubClaimsStore{
		user: &claims.User{ID: "u1", OrganizationID: "org1", Email: "carer@acme.org", PasswordHash: hash, Status: "active"},
	}, engine)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	eventStore := &stubEventStore{}
	eventSvc, err := event.NewService(eventStore)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	accSvc, err := accountability.NewService(&stubAccountabilityStore{
		byUser: map[string][]accountability.Assignment{
			"u1": {{UserID: "u1", SubjectType: accountability.SubjectClient, SubjectID: "c1"}},
		},
	})
	if err != nil {
		t.Fatalf("accountability.NewService: %v", err)
	}

	api := New(ReadyProbe{}, "test",
		WithIssuer(issuer),
		WithEventService(eventSvc),
		WithAccountability(accSvc),
	)
	return api, eventStore
}

func authToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	body := bytes.NewBufferString(`{"email":"carer@acme.org","password":"s3cret"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token request failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestAuthTokenRejectsBadCredentials(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	body := bytes.NewBufferString(`{"email":"carer@acme.org","password":"wrong"}`)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/token", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEventAppendRequiresPermission(t *testing.T) {
	api, store := newTestAPI(t, nil) // no grants at all
	handler := api.Handler()
	token := authToken(t, handler)

	body := bytes.NewBufferString(`{"stream_type":"organization","stream_id":"org-1","event_type":"organization.created","event_data":{"name":"Acme"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
	if len(store.appended) != 0 {
		t.Fatal("denied request must not reach the store")
	}
}

func TestEventAppendCommitsAndReportsOutcome(t *testing.T) {
	api, store := newTestAPI(t, []authz.Permission{{Key: authz.PermEventsAppend}})
	handler := api.Handler()
	token := authToken(t, handler)

	body := bytes.NewBufferString(`{"stream_type":"organization","stream_id":"org-1","event_type":"organization.created","event_data":{"name":"Acme","scope_path":"acme"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	var result event.AppendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Processed || result.EventID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.appended))
	}
}

func TestEventAppendRejectsUnknownType(t *testing.T) {
	api, store := newTestAPI(t, []authz.Permission{{Key: authz.PermEventsAppend}})
	handler := api.Handler()
	token := authToken(t, handler)

	body := bytes.NewBufferString(`{"stream_type":"spaceship","stream_id":"x","event_type":"spaceship.launched"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rec.Code, rec.Body.String())
	}
	if len(store.appended) != 0 {
		t.Fatal("unknown type must not reach the store")
	}
}

func TestRetryEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, []authz.Permission{{Key: authz.PermEventsAdmin, ScopeType: authz.ScopeTypeGlobal}})
	handler := api.Handler()
	token := authToken(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/events/ev-1/retry", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/events/missing/retry", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing event, got %d", rec.Code)
	}
}

func TestAccountabilitySelfRead(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()
	token := authToken(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/accountability/users/u1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	var resp accountabilityListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || resp.Items[0].SubjectID != "c1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Reading someone else's assignments without the manage permission fails.
	req = httptest.NewRequest(http.MethodGet, "/v1/accountability/users/u2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
