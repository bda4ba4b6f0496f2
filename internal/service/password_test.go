package service

import (
	"strings"
	"testing"
)

func TestPassword_RoundTrip(t *testing.T) {
	for _, plaintext := range []string{"hunter2", "", "päss wörd ✓", strings.Repeat("x", 200)} {
		hash, err := HashPassword(plaintext)
		if err != nil {
			t.Fatalf("HashPassword(%q): %v", plaintext, err)
		}
		if !VerifyPassword(plaintext, hash) {
			t.Fatalf("expected %q to verify against its own hash", plaintext)
		}
		if VerifyPassword(plaintext+"!", hash) {
			t.Fatalf("expected a different password not to verify")
		}
	}
}

func TestPassword_FreshSaltPerHash(t *testing.T) {
	a, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatal("expected two hashes of the same password to differ")
	}
	saltA, _, _ := strings.Cut(a, ":")
	saltB, _, _ := strings.Cut(b, ":")
	if saltA == saltB {
		t.Fatal("expected distinct salts")
	}
	if len(saltA) != scryptSaltLen*2 {
		t.Fatalf("unexpected salt length %d", len(saltA))
	}
}

func TestPassword_MalformedHashNeverVerifies(t *testing.T) {
	for _, stored := range []string{
		"",
		"nocolon",
		"zz:zz",
		":" + strings.Repeat("00", scryptKeyLen),
		strings.Repeat("00", scryptSaltLen) + ":00",
	} {
		if VerifyPassword("hunter2", stored) {
			t.Fatalf("expected malformed hash %q to fail verification", stored)
		}
	}
}
