// ABOUTME: Provisioner interface and types for temporary homeserver identities
// ABOUTME: Abstracts the Synapse admin surface used by sessions and cleanup

package synapse

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned by GetIdentityStatus when the homeserver
// has no record of the user.
var ErrIdentityNotFound = errors.New("identity not found")

// Seed carries the inputs used to derive a unique temporary username.
type Seed struct {
	PublicKey   string
	SessionID   string
	DisplayName string
}

// Identity is a freshly provisioned homeserver account. The password is
// generated server-side and handed to the client once; the gateway keeps
// only the user ID.
type Identity struct {
	UserID      string // full Matrix ID, e.g. @temp_ab12cd34ef56ab12:veil.local
	Password    string
	DisplayName string
}

// IdentityStatus describes the remote state of a provisioned identity.
type IdentityStatus struct {
	Deactivated bool
}

// Provisioner is the contract with the external identity system. Calls are
// not assumed idempotent except DeleteIdentity, which must be safely
// retryable.
type Provisioner interface {
	CreateIdentity(ctx context.Context, seed Seed) (*Identity, error)
	DeleteIdentity(ctx context.Context, userID string) error
	GetIdentityStatus(ctx context.Context, userID string) (*IdentityStatus, error)
	Authenticate(ctx context.Context, userID, password string) (accessToken string, err error)
}
