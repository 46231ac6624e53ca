// Package session manages the lifecycle of chat sessions.
//
// A session binds an authenticated public key to a temporary messaging
// identity provisioned through the synapse package. The Manager serializes
// lifecycle operations per key, reuses a healthy existing session instead of
// provisioning a second identity, and degrades gracefully when the
// post-provisioning login fails.
package session
