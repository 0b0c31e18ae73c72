package id

import "testing"

func TestNewIsUniqueAndValid(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if !Valid(a) {
		t.Fatalf("expected %q to be valid", a)
	}
	if Valid("../etc/passwd") {
		t.Fatal("expected path-like id to be invalid")
	}
}
