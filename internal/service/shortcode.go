package service

import (
	"crypto/rand"
	"encoding/hex"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	ShortCodeLength      = 8
	shortCodeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	maxShortCodeAttempts = 10

	secureTokenBytes = 32
)

var newShortCode = mustShortCodeGenerator()

func mustShortCodeGenerator() func() string {
	gen, err := nanoid.CustomASCII(shortCodeAlphabet, ShortCodeLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// GenerateShortCode returns 8 random characters from [0-9A-Za-z].
func GenerateShortCode() string {
	return newShortCode()
}

func IsValidShortCode(code string) bool {
	if len(code) != ShortCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

// generateSecureToken returns 256 bits of randomness, hex encoded.
func generateSecureToken() (string, error) {
	b := make([]byte, secureTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
