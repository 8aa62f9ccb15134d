package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// DefaultProvider names the oracle key used when none is given
const DefaultProvider = "anti-captcha"

// OracleKey is a stored client key for a solving service
type OracleKey struct {
	Provider     string    `json:"provider"`
	ClientKey    string    `json:"client_key"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving oracle keys
type CredentialStore interface {
	// Name identifies the store in status output
	Name() string

	// Store saves the key for its provider
	Store(key *OracleKey) error

	// Retrieve gets the key for a provider
	Retrieve(provider string) (*OracleKey, error)

	// Delete removes the key for a provider
	Delete(provider string) error

	// Exists checks if a key exists for a provider
	Exists(provider string) bool
}

// Manager handles key storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with the keyring first, then an
// encrypted file, then the environment
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves the key in the first store that accepts it and returns that
// store's name
func (m *Manager) Store(key *OracleKey) (string, error) {
	if key == nil || key.ClientKey == "" {
		return "", errors.New("client key is required")
	}
	if key.Provider == "" {
		key.Provider = DefaultProvider
	}
	key.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(key)
		if err == nil {
			return store.Name(), nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to store oracle key: %w", lastErr)
	}
	return "", errors.New("no available credential stores")
}

// Retrieve gets the key from the first store that has it, along with that
// store's name
func (m *Manager) Retrieve(provider string) (*OracleKey, string, error) {
	if provider == "" {
		provider = DefaultProvider
	}
	for _, store := range m.stores {
		if key, err := store.Retrieve(provider); err == nil && key != nil {
			return key, store.Name(), nil
		}
	}
	return nil, "", fmt.Errorf("%w for provider %s", ErrCredentialsNotFound, provider)
}

// Resolve returns explicit when set, otherwise the stored key
func (m *Manager) Resolve(explicit string) (string, string, error) {
	if explicit != "" {
		return explicit, "config", nil
	}
	key, source, err := m.Retrieve(DefaultProvider)
	if err != nil {
		return "", "", err
	}
	return key.ClientKey, source, nil
}

// Delete removes the key from every store that holds it
func (m *Manager) Delete(provider string) error {
	if provider == "" {
		provider = DefaultProvider
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(provider); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete oracle key: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for provider %s", ErrCredentialsNotFound, provider)
	}
	return nil
}

// StoreNames lists the active stores in lookup order
func (m *Manager) StoreNames() []string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.Name())
	}
	return names
}

// getConfigDir returns the per-user configuration directory
func getConfigDir() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "domainscraper")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// MaskKey masks all but the first 4 and last 4 characters of a key
func MaskKey(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("oracle key not found")
	ErrInvalidCredentials  = errors.New("invalid oracle key")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
