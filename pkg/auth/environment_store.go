package auth

import (
	"os"
	"time"
)

// Environment variables checked in order
var keyEnvVars = []string{"DOMAINSCRAPER_ORACLE_KEY", "ANTI_CAPTCHA_KEY"}

// EnvironmentStore implements CredentialStore over environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Name returns the store name
func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(key *OracleKey) error {
	return ErrStoreUnavailable
}

// Retrieve returns the first non-empty key variable
func (e *EnvironmentStore) Retrieve(provider string) (*OracleKey, error) {
	value := lookupEnvKey()
	if value == "" {
		return nil, ErrCredentialsNotFound
	}
	if provider == "" {
		provider = DefaultProvider
	}
	return &OracleKey{
		Provider:     provider,
		ClientKey:    value,
		LastModified: time.Now(),
	}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(provider string) error {
	return ErrStoreUnavailable
}

// Exists checks if a key variable is set
func (e *EnvironmentStore) Exists(provider string) bool {
	return lookupEnvKey() != ""
}

func lookupEnvKey() string {
	for _, name := range keyEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
