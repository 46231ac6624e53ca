// ABOUTME: Synapse admin API client for provisioning temporary identities
// ABOUTME: Uses mautrix for admin requests and password login

package synapse

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"maunium.net/go/mautrix"
)

// Client implements Provisioner against a Synapse homeserver.
type Client struct {
	admin      *mautrix.Client // authenticated with the admin token
	login      *mautrix.Client // unauthenticated, used for password logins
	serverName string
	logger     *slog.Logger
}

var _ Provisioner = (*Client)(nil)

// NewClient creates a provisioning client. baseURL is the homeserver's
// client-server API endpoint, serverName the Matrix domain used in user IDs,
// and adminToken an access token with Synapse admin rights.
func NewClient(baseURL, serverName, adminToken string, logger *slog.Logger) (*Client, error) {
	admin, err := mautrix.NewClient(baseURL, "", adminToken)
	if err != nil {
		return nil, fmt.Errorf("creating admin client: %w", err)
	}

	login, err := mautrix.NewClient(baseURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating login client: %w", err)
	}

	return &Client{
		admin:      admin,
		login:      login,
		serverName: serverName,
		logger:     logger.With("component", "synapse"),
	}, nil
}

// upsertUserRequest is the body for PUT /_synapse/admin/v2/users/{userID}.
type upsertUserRequest struct {
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"displayname,omitempty"`
	Admin       bool   `json:"admin"`
	Deactivated bool   `json:"deactivated"`
	Erase       bool   `json:"erase,omitempty"`
}

// userStatusResponse is the relevant slice of the admin user detail response.
type userStatusResponse struct {
	Name        string `json:"name"`
	Deactivated bool   `json:"deactivated"`
}

// CreateIdentity provisions a new account named temp_<hash16> on the
// homeserver. Each call produces a distinct identity; nothing about the
// public key is recoverable from the username.
func (c *Client) CreateIdentity(ctx context.Context, seed Seed) (*Identity, error) {
	username := deriveUsername(seed)
	userID := fmt.Sprintf("@%s:%s", username, c.serverName)

	password, err := generatePassword()
	if err != nil {
		return nil, err
	}

	displayName := seed.DisplayName
	if displayName == "" {
		displayName = "TempUser_" + username[:13]
	}

	_, err = c.admin.MakeFullRequest(ctx, mautrix.FullRequest{
		Method: http.MethodPut,
		URL:    c.admin.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		RequestJSON: &upsertUserRequest{
			Password:    password,
			DisplayName: displayName,
			Admin:       false,
			Deactivated: false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", userID, err)
	}

	c.logger.Info("temporary identity provisioned", "user_id", userID)
	return &Identity{
		UserID:      userID,
		Password:    password,
		DisplayName: displayName,
	}, nil
}

// DeleteIdentity deactivates and erases the account. Deactivation is
// idempotent on the Synapse side, so retries are safe.
func (c *Client) DeleteIdentity(ctx context.Context, userID string) error {
	_, err := c.admin.MakeFullRequest(ctx, mautrix.FullRequest{
		Method: http.MethodPut,
		URL:    c.admin.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		RequestJSON: &upsertUserRequest{
			Deactivated: true,
			Erase:       true,
		},
	})
	if err != nil {
		return fmt.Errorf("deactivating user %s: %w", userID, err)
	}

	c.logger.Info("temporary identity deactivated", "user_id", userID)
	return nil
}

// GetIdentityStatus looks up the account on the homeserver. A 404 maps to
// ErrIdentityNotFound.
func (c *Client) GetIdentityStatus(ctx context.Context, userID string) (*IdentityStatus, error) {
	var resp userStatusResponse
	_, err := c.admin.MakeFullRequest(ctx, mautrix.FullRequest{
		Method:       http.MethodGet,
		URL:          c.admin.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		ResponseJSON: &resp,
	})
	if err != nil {
		var httpErr mautrix.HTTPError
		if errors.As(err, &httpErr) && httpErr.Response != nil && httpErr.Response.StatusCode == http.StatusNotFound {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}

	return &IdentityStatus{Deactivated: resp.Deactivated}, nil
}

// Authenticate exchanges the identity's password for an access token the
// client can use against the messaging transport.
func (c *Client) Authenticate(ctx context.Context, userID, password string) (string, error) {
	resp, err := c.login.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: userID,
		},
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("logging in %s: %w", userID, err)
	}
	return resp.AccessToken, nil
}

// deriveUsername hashes the seed with the wall clock so the same key gets a
// fresh username every session.
func deriveUsername(seed Seed) string {
	input := fmt.Sprintf("%s%s%d", seed.PublicKey, seed.SessionID, time.Now().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return "temp_" + hex.EncodeToString(sum[:8])
}

// generatePassword returns a random one-time password for the account.
func generatePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
