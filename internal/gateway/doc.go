// Package gateway wires the veil-gateway components together and serves the
// HTTP API.
//
// The gateway owns the store, the challenge cache, the authenticator, the
// session manager, and the cleanup engine. Run starts the HTTP server and
// the background sweeps and blocks until the context is cancelled, then
// shuts everything down gracefully.
package gateway
