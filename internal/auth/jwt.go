// Package auth issues and validates the HS256 tokens used by the API:
// bearer tokens identifying a user, and download tokens that unlock a single
// password-protected short link after verification.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DownloadScope = "link:download"

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenCodeMismatch = errors.New("token was not issued for this link")
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type DownloadClaims struct {
	ShortCode string `json:"short_code"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenManager signs and parses tokens with a single HMAC secret. User and
// download tokens are expected to use separate managers with distinct secrets.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret), now: time.Now}
}

func (m *TokenManager) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateDownloadToken issues a token that only unlocks shortCode.
func (m *TokenManager) GenerateDownloadToken(shortCode string, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := &DownloadClaims{
		ShortCode: shortCode,
		Scope:     DownloadScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   shortCode,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseDownloadToken validates the token and checks that it was issued for shortCode.
func (m *TokenManager) ParseDownloadToken(tokenString, shortCode string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Scope != DownloadScope {
		return nil, ErrInvalidToken
	}
	if claims.ShortCode != shortCode {
		return nil, ErrTokenCodeMismatch
	}
	return claims, nil
}

func (m *TokenManager) parse(tokenString string, claims jwt.Claims) error {
	if tokenString == "" {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %v, expected HS256", token.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
