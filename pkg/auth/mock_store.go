package auth

import (
	"sync"
)

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	name string
	keys map[string]*OracleKey
	mu   sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	DeleteError   error
}

// NewMockStore creates a new mock credential store
func NewMockStore(name string) *MockStore {
	return &MockStore{
		name: name,
		keys: make(map[string]*OracleKey),
	}
}

// Name returns the store name
func (m *MockStore) Name() string { return m.name }

// Store saves the key
func (m *MockStore) Store(key *OracleKey) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key == nil || key.Provider == "" {
		return ErrInvalidCredentials
	}

	keyCopy := *key
	m.keys[key.Provider] = &keyCopy
	return nil
}

// Retrieve gets the key
func (m *MockStore) Retrieve(provider string) (*OracleKey, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	key, exists := m.keys[provider]
	if !exists {
		return nil, ErrCredentialsNotFound
	}

	keyCopy := *key
	return &keyCopy, nil
}

// Delete removes the key
func (m *MockStore) Delete(provider string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[provider]; !exists {
		return ErrCredentialsNotFound
	}
	delete(m.keys, provider)
	return nil
}

// Exists checks if the key exists
func (m *MockStore) Exists(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.keys[provider]
	return exists
}

// Count returns the number of stored keys
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// NewMockManager creates a Manager with a single mock store
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore("mock")
	return &Manager{stores: []CredentialStore{mockStore}}, mockStore
}

// NewMockManagerWithStores creates a Manager over the given stores
func NewMockManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}
