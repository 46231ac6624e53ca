// Package keys provides the Ed25519 primitives used for client
// authentication: keypair generation, challenge nonces, and signature
// verification. All keys, nonces, and signatures cross package boundaries
// as standard base64 strings.
package keys
