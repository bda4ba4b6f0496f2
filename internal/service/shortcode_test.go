package service

import (
	"regexp"
	"testing"
)

var shortCodePattern = regexp.MustCompile(`^[a-zA-Z0-9]{8}$`)

func TestGenerateShortCode_Format(t *testing.T) {
	seen := make(map[string]struct{}, 2000)
	for i := 0; i < 2000; i++ {
		code := GenerateShortCode()
		if !shortCodePattern.MatchString(code) {
			t.Fatalf("generated code %q does not match [a-zA-Z0-9]{8}", code)
		}
		if !IsValidShortCode(code) {
			t.Fatalf("generated code %q rejected by IsValidShortCode", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 1990 {
		t.Fatalf("expected codes to be effectively unique, got %d distinct of 2000", len(seen))
	}
}

func TestIsValidShortCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"Ab3dEf9h", true},
		{"00000000", true},
		{"zzzzzzzz", true},
		{"Ab3dEf9", false},
		{"Ab3dEf9hX", false},
		{"", false},
		{"Ab3d-f9h", false},
		{"Ab3d_f9h", false},
		{"Ab3d f9h", false},
		{"Ab3dÉf9h", false},
		{"../../et", false},
	}
	for _, tt := range tests {
		if got := IsValidShortCode(tt.code); got != tt.want {
			t.Errorf("IsValidShortCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := generateSecureToken()
	if err != nil {
		t.Fatalf("generateSecureToken: %v", err)
	}
	b, err := generateSecureToken()
	if err != nil {
		t.Fatalf("generateSecureToken: %v", err)
	}
	if len(a) != secureTokenBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", secureTokenBytes*2, len(a))
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
}
