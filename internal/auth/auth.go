// ABOUTME: Challenge-response authentication orchestration
// ABOUTME: Issues challenges, verifies signatures, and mints/validates credentials

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilchat/veil-gateway/internal/challenge"
	"github.com/veilchat/veil-gateway/internal/keys"
	"github.com/veilchat/veil-gateway/internal/store"
)

// Outward-facing authentication errors. Unknown, revoked, and expired keys
// all collapse to ErrNotAuthorized so callers cannot enumerate which keys
// are registered.
var (
	ErrNotAuthorized     = errors.New("public key not authorized")
	ErrNoActiveChallenge = errors.New("no active challenge")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

// KeyStore is the slice of the record store the authenticator needs.
type KeyStore interface {
	GetAuthorizedKey(ctx context.Context, publicKey string) (*store.AuthorizedKey, error)
	TouchAuthorizedKey(ctx context.Context, publicKey string, usedAt time.Time) error
}

// Authenticator runs the challenge-response protocol against the authorized
// key store and the in-process challenge cache.
type Authenticator struct {
	keys       KeyStore
	challenges *challenge.Cache
	tokens     *TokenIssuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthenticator wires the authenticator. The challenge cache's TTL bounds
// the signing window; the token issuer's TTL bounds credential lifetime.
func NewAuthenticator(ks KeyStore, cache *challenge.Cache, tokens *TokenIssuer, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		keys:       ks,
		challenges: cache,
		tokens:     tokens,
		logger:     logger.With("component", "auth"),
		now:        time.Now,
	}
}

// RequestChallenge issues a nonce for the public key if it is authorized,
// active, and unexpired. Issuing overwrites any prior unconsumed challenge
// for the same key.
func (a *Authenticator) RequestChallenge(ctx context.Context, publicKey string) (string, error) {
	key, err := a.keys.GetAuthorizedKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotAuthorized
		}
		return "", fmt.Errorf("looking up key: %w", err)
	}

	if !key.Usable(a.now()) {
		return "", ErrNotAuthorized
	}

	nonce, err := keys.NewChallenge()
	if err != nil {
		return "", fmt.Errorf("creating challenge: %w", err)
	}

	a.challenges.Put(publicKey, nonce)
	a.logger.Debug("challenge issued", "key", abbreviate(publicKey))
	return nonce, nil
}

// VerifyChallenge consumes the outstanding challenge for the key and checks
// the signature over it. The nonce is consumed whether or not verification
// succeeds, so a failed attempt cannot be retried against the same nonce.
// On success the key's last_used_at is updated and a credential is returned.
func (a *Authenticator) VerifyChallenge(ctx context.Context, publicKey, signature string) (string, error) {
	nonce, ok := a.challenges.Take(publicKey)
	if !ok {
		return "", ErrNoActiveChallenge
	}

	if !keys.VerifySignature(nonce, signature, publicKey) {
		a.logger.Info("signature verification failed", "key", abbreviate(publicKey))
		return "", ErrInvalidSignature
	}

	if err := a.keys.TouchAuthorizedKey(ctx, publicKey, a.now()); err != nil {
		// The client proved possession; losing the bookkeeping update is not
		// a reason to reject them.
		a.logger.Warn("updating last_used_at failed", "key", abbreviate(publicKey), "error", err)
	}

	token, err := a.tokens.Generate(publicKey)
	if err != nil {
		return "", fmt.Errorf("issuing credential: %w", err)
	}

	a.logger.Info("client authenticated", "key", abbreviate(publicKey))
	return token, nil
}

// ValidateCredential verifies the credential and returns its subject public
// key. Malformed, expired, and tampered credentials all surface as the same
// ErrInvalidCredential.
func (a *Authenticator) ValidateCredential(credential string) (string, error) {
	publicKey, err := a.tokens.Verify(credential)
	if err != nil {
		return "", ErrInvalidCredential
	}
	return publicKey, nil
}

// abbreviate shortens a public key for log output.
func abbreviate(publicKey string) string {
	if len(publicKey) <= 16 {
		return publicKey
	}
	return publicKey[:16] + "..."
}
