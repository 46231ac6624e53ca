// ABOUTME: In-memory Provisioner double for session and cleanup tests
// ABOUTME: Supports failure injection on every operation

package synapse

import (
	"context"
	"fmt"
	"sync"
)

// MockProvisioner is an in-memory Provisioner. Tests can inject failures per
// operation and inspect which identities exist.
type MockProvisioner struct {
	mu         sync.Mutex
	identities map[string]*Identity // userID -> identity
	passwords  map[string]string    // userID -> password
	deleted    []string
	counter    int

	CreateErr error
	DeleteErr error
	StatusErr error
	AuthErr   error
}

var _ Provisioner = (*MockProvisioner)(nil)

func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{
		identities: make(map[string]*Identity),
		passwords:  make(map[string]string),
	}
}

func (m *MockProvisioner) CreateIdentity(ctx context.Context, seed Seed) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	m.counter++
	userID := fmt.Sprintf("@temp_mock%04d:veil.test", m.counter)
	password := fmt.Sprintf("password-%04d", m.counter)

	displayName := seed.DisplayName
	if displayName == "" {
		displayName = fmt.Sprintf("TempUser_%04d", m.counter)
	}

	ident := &Identity{UserID: userID, Password: password, DisplayName: displayName}
	m.identities[userID] = ident
	m.passwords[userID] = password

	out := *ident
	return &out, nil
}

func (m *MockProvisioner) DeleteIdentity(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	delete(m.identities, userID)
	delete(m.passwords, userID)
	m.deleted = append(m.deleted, userID)
	return nil
}

func (m *MockProvisioner) GetIdentityStatus(ctx context.Context, userID string) (*IdentityStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StatusErr != nil {
		return nil, m.StatusErr
	}

	if _, ok := m.identities[userID]; !ok {
		return nil, ErrIdentityNotFound
	}
	return &IdentityStatus{Deactivated: false}, nil
}

func (m *MockProvisioner) Authenticate(ctx context.Context, userID, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AuthErr != nil {
		return "", m.AuthErr
	}

	stored, ok := m.passwords[userID]
	if !ok || stored != password {
		return "", fmt.Errorf("invalid credentials for %s", userID)
	}
	return "token-for-" + userID, nil
}

// Exists reports whether the identity is still provisioned.
func (m *MockProvisioner) Exists(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.identities[userID]
	return ok
}

// Deleted returns the user IDs passed to DeleteIdentity, in order.
func (m *MockProvisioner) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}

// Seed registers an identity directly, bypassing CreateIdentity. Useful for
// orphan reconciliation tests.
func (m *MockProvisioner) SeedIdentity(userID, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[userID] = &Identity{UserID: userID, Password: password}
	m.passwords[userID] = password
}
