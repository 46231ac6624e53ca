// ABOUTME: Ed25519 keypair generation, challenge nonces, and signature verification
// ABOUTME: All inputs/outputs are base64-encoded raw key and signature bytes

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// ChallengeSize is the number of random bytes in a challenge nonce.
const ChallengeSize = 32

// GenerateKeypair creates a new Ed25519 keypair. Both halves are returned
// base64-encoded: the private key as the 32-byte seed, the public key as the
// 32-byte raw public key. The private key is never stored by the server.
func GenerateKeypair() (privateKey, publicKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating keypair: %w", err)
	}

	privateKey = base64.StdEncoding.EncodeToString(priv.Seed())
	publicKey = base64.StdEncoding.EncodeToString(pub)
	return privateKey, publicKey, nil
}

// NewChallenge returns a cryptographically random nonce of ChallengeSize
// bytes, base64-encoded.
func NewChallenge() (string, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Sign signs message with a base64-encoded Ed25519 seed and returns the
// signature base64-encoded. Used by the keygen CLI self-test and by tests;
// the server itself never holds private keys.
func Sign(message, privateKey string) (string, error) {
	seed, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("decoding private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(priv, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature reports whether signature is a valid Ed25519 signature
// over message by the holder of publicKey. Every failure mode (bad base64,
// wrong key length, mismatched signature) collapses to false so callers
// cannot distinguish which check failed.
func VerifySignature(message, signature, publicKey string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
