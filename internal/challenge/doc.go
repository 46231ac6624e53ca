// Package challenge provides the process-wide cache of outstanding
// authentication challenges, keyed by public key with a fixed TTL.
package challenge
