package authz

import "testing"

func TestAuthorize(t *testing.T) {
	grants := GrantSet{
		{Permission: PermClientsView, Scope: "acme.pediatrics"},
		{Permission: PermMedicationsAdmin, Scope: "acme"},
	}

	if !Authorize(grants, PermClientsView, "acme.pediatrics") {
		t.Fatal("expected exact-scope grant to authorize")
	}
	if !Authorize(grants, PermClientsView, "acme.pediatrics.ward1") {
		t.Fatal("expected descendant target to authorize")
	}
	if Authorize(grants, PermClientsView, "acme") {
		t.Fatal("narrow grant must not authorize wider target")
	}
	if Authorize(grants, PermClientsView, "acme.oncology") {
		t.Fatal("sibling scope must not authorize")
	}
	if !Authorize(grants, PermMedicationsAdmin, "acme.oncology") {
		t.Fatal("tenant-root grant should cover any unit")
	}
	if Authorize(grants, PermMedicationsView, "acme") {
		t.Fatal("authorize must not expand implications itself")
	}
	if Authorize(grants, PermClientsView, "") {
		t.Fatal("zero target must deny")
	}
	if Authorize(nil, PermClientsView, "acme") {
		t.Fatal("empty grant set must deny")
	}
}
