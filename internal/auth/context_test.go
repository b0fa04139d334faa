package auth

import (
	"context"
	"testing"

	"carebase.org/internal/authz"
)

func TestPrincipalCan(t *testing.T) {
	p := Principal{
		UserID:   "u1",
		TenantID: "org1",
		Grants: authz.GrantSet{
			{Permission: authz.PermClientsView, Scope: "acme.pediatrics"},
		},
	}
	if !p.Can(authz.PermClientsView, "acme.pediatrics.ward1") {
		t.Fatal("expected grant to cover descendant scope")
	}
	if p.Can(authz.PermClientsView, "acme") {
		t.Fatal("narrow grant must not cover wider target")
	}

	p.AccessBlocked = true
	if p.Can(authz.PermClientsView, "acme.pediatrics") {
		t.Fatal("blocked principal must be denied everything")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("empty context must not contain a principal")
	}

	p := Principal{UserID: "u1", TenantID: "org1"}
	ctx = ContextWithPrincipal(ctx, p)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got.UserID != "u1" || got.TenantID != "org1" {
		t.Fatalf("unexpected principal: %+v ok=%v", got, ok)
	}

	ctx = ContextWithToken(ctx, "raw-token")
	token, ok := TokenFromContext(ctx)
	if !ok || token != "raw-token" {
		t.Fatalf("unexpected token: %q ok=%v", token, ok)
	}

	userID, ok := UserIDFromContext(ctx)
	if !ok || userID != "u1" {
		t.Fatalf("unexpected user id: %q ok=%v", userID, ok)
	}
}
