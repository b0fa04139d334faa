package scope

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		raw     string
		want    Path
		wantErr bool
	}{
		{"acme", "acme", false},
		{"  acme.pediatrics ", "acme.pediatrics", false},
		{"", "", true},
		{"acme..pediatrics", "", true},
		{".acme", "", true},
		{"acme.", "", true},
		{"acme.ped unit", "", true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestContains(t *testing.T) {
	cases := []struct {
		ancestor, descendant Path
		want                 bool
	}{
		{"acme", "acme.pediatrics", true},
		{"acme.pediatrics", "acme", false},
		{"acme", "acme", true},
		{"acme", "acmecorp", false},
		{"acme.ped", "acme.pediatrics", false},
		{"acme", "beta.unit", false},
		{"", "acme", false},
		{"acme", "", false},
	}
	for _, tc := range cases {
		if got := tc.ancestor.Contains(tc.descendant); got != tc.want {
			t.Fatalf("Contains(%q, %q) = %v, want %v", tc.ancestor, tc.descendant, got, tc.want)
		}
	}
}

func TestDepthAndRoot(t *testing.T) {
	if d := Path("acme.pediatrics.ward1").Depth(); d != 3 {
		t.Fatalf("expected depth 3, got %d", d)
	}
	if d := Path("acme").Depth(); d != 1 {
		t.Fatalf("expected depth 1, got %d", d)
	}
	if d := Path("").Depth(); d != 0 {
		t.Fatalf("expected depth 0, got %d", d)
	}
	if r := Path("acme.pediatrics").Root(); r != "acme" {
		t.Fatalf("unexpected root %q", r)
	}
	if r := Path("acme").Root(); r != "acme" {
		t.Fatalf("unexpected root %q", r)
	}
}
