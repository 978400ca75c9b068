package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvAccessToken = "VK_ACCESS_TOKEN"
	EnvAPIVersion  = "VK_API_VERSION"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the token from the environment under any name
func (e *EnvironmentStore) Retrieve(name string) (*Credential, error) {
	token := os.Getenv(EnvAccessToken)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "environment"
	}

	return &Credential{
		Name:         name,
		AccessToken:  token,
		APIVersion:   os.Getenv(EnvAPIVersion),
		LastModified: time.Now(),
	}, nil
}

// List returns a single credential if the token variable is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token exists
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(EnvAccessToken) != ""
}
