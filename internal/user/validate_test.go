package user

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	for _, ok := range []string{"al", "alice", "bob_99", "x-y"} {
		if err := ValidateUsername(ok); err != nil {
			t.Fatalf("expected %q to be valid, got %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a", "has space", "ünï", strings.Repeat("a", MaxUsernameLen+1)} {
		if err := ValidateUsername(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("secret"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
	if err := ValidatePassword("short"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestValidateDisplayName(t *testing.T) {
	if err := ValidateDisplayName(""); err != nil {
		t.Fatalf("expected empty display name to be allowed, got %v", err)
	}
	if err := ValidateDisplayName("Zoë Q."); err != nil {
		t.Fatalf("expected unicode display name to be allowed, got %v", err)
	}
	if err := ValidateDisplayName("bell\x07"); err == nil {
		t.Fatalf("expected control characters to be rejected")
	}
}
