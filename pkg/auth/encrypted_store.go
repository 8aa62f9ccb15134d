package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated keyfile passphrase
const PassphraseEnv = "DOMAINSCRAPER_PASSPHRASE"

const (
	saltSize     = 32
	pbkdf2Rounds = 100000
)

// keyFile is the on-disk layout. Each client key is sealed on its own with
// the provider name as additional data, so a sealed key cannot be moved to
// another provider's slot.
type keyFile struct {
	Salt []byte               `json:"salt"`
	Keys map[string]sealedKey `json:"keys"`
}

type sealedKey struct {
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps oracle keys in an AES-GCM sealed keyfile
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the keyfile at path. The passphrase comes from
// DOMAINSCRAPER_PASSPHRASE or a generated file next to the configuration.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Name() string { return "encrypted-file" }

func (e *EncryptedFileStore) Store(key *OracleKey) error {
	if key == nil || key.Provider == "" || key.ClientKey == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kf, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		kf = &keyFile{Salt: make([]byte, saltSize), Keys: map[string]sealedKey{}}
		if _, err := rand.Read(kf.Salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	} else if err != nil {
		return err
	}

	aead, err := e.gcm(kf.Salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	kf.Keys[key.Provider] = sealedKey{
		Sealed:   aead.Seal(nonce, nonce, []byte(key.ClientKey), []byte(key.Provider)),
		Modified: time.Now(),
	}
	return e.write(kf)
}

func (e *EncryptedFileStore) Retrieve(provider string) (*OracleKey, error) {
	if provider == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kf, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	} else if err != nil {
		return nil, err
	}
	entry, ok := kf.Keys[provider]
	if !ok {
		return nil, ErrCredentialsNotFound
	}

	aead, err := e.gcm(kf.Salt)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(entry.Sealed) < n {
		return nil, errors.New("sealed key too short")
	}
	plain, err := aead.Open(nil, entry.Sealed[:n], entry.Sealed[n:], []byte(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key for %s: %w", provider, err)
	}
	return &OracleKey{Provider: provider, ClientKey: string(plain), LastModified: entry.Modified}, nil
}

// Delete removes the provider's key; the keyfile goes with its last key
func (e *EncryptedFileStore) Delete(provider string) error {
	if provider == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kf, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	} else if err != nil {
		return err
	}
	if _, ok := kf.Keys[provider]; !ok {
		return ErrCredentialsNotFound
	}
	delete(kf.Keys, provider)
	if len(kf.Keys) == 0 {
		return os.Remove(e.path)
	}
	return e.write(kf)
}

func (e *EncryptedFileStore) Exists(provider string) bool {
	_, err := e.Retrieve(provider)
	return err == nil
}

func (e *EncryptedFileStore) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(e.passphrase), salt, pbkdf2Rounds, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (e *EncryptedFileStore) read() (*keyFile, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse keyfile: %w", err)
	}
	if kf.Keys == nil {
		kf.Keys = map[string]sealedKey{}
	}
	return &kf, nil
}

func (e *EncryptedFileStore) write(kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write keyfile: %w", err)
	}
	return os.Rename(tmp, e.path)
}

// loadPassphrase reads PassphraseEnv, or the passphrase file in the config
// directory, creating it on first use
func loadPassphrase() (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}

	dir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ".passphrase")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	pass := fmt.Sprintf("%x", raw)
	if err := os.WriteFile(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
