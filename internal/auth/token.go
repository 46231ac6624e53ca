// ABOUTME: Bearer credential minting and verification for authenticated clients
// ABOUTME: Uses HS256 signing with a configurable server-held secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCredentialTTL is how long an issued credential stays valid.
const DefaultCredentialTTL = 24 * time.Hour

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenIssuer mints and verifies HS256 bearer credentials. The subject claim
// carries the authenticated public key.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer with the given secret and credential
// lifetime. A zero ttl falls back to DefaultCredentialTTL.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Generate creates a new credential for the given public key.
func (t *TokenIssuer) Generate(publicKey string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": publicKey,
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify validates the credential and extracts the public key from the
// "sub" claim.
func (t *TokenIssuer) Verify(tokenString string) (publicKey string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
