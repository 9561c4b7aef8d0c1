package types

import "testing"

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"admin":   RoleAdmin,
		" Admin ": RoleAdmin,
		"driver":  RoleDriver,
		"":        RoleCustomer,
		"root":    RoleCustomer,
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{Lat: 1.0, Lng: 36.0}).Valid() {
		t.Fatalf("expected valid point")
	}
	if (Point{Lat: 91, Lng: 0}).Valid() {
		t.Fatalf("expected latitude out of range")
	}
	if (Point{Lat: 0, Lng: -181}).Valid() {
		t.Fatalf("expected longitude out of range")
	}
}
