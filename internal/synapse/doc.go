// Package synapse manages temporary identities on a Matrix Synapse
// homeserver through its admin API.
//
// Each chat session is backed by a throwaway Synapse account. The Provisioner
// interface covers the four operations the gateway needs: create an account,
// deactivate it, check whether it still exists, and exchange its password for
// an access token. Client implements the interface with mautrix; MockProvisioner
// is the in-memory test double.
package synapse
