// Package auth implements challenge-response authentication for veil-gateway.
//
// # Flow
//
// A client proves possession of a registered Ed25519 private key:
//
//  1. RequestChallenge: the gateway checks the public key is authorized and
//     unexpired, then caches a random nonce for it (5 minute window).
//  2. VerifyChallenge: the client returns a signature over the nonce. The
//     nonce is consumed whether or not verification succeeds, so a single
//     challenge can never be replayed.
//  3. On success the gateway issues an HS256 bearer credential whose subject
//     is the public key, valid for 24 hours.
//
// # Oracle hardening
//
// Unknown, revoked, and expired keys all surface as the same ErrNotAuthorized,
// and malformed, expired, and tampered credentials all surface as the same
// ErrInvalidCredential, so callers cannot probe which keys exist or why a
// token was rejected.
package auth
