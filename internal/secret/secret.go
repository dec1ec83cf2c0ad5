// Package secret stores provider API keys separately from non-secret
// configuration.
//
// The file store keeps keys in a 0600 JSON file under the user config
// directory with AES-GCM obfuscation keyed off machine identity. That is not
// a replacement for an OS keychain, but it keeps keys out of plain-text
// config and out of the database. Concurrent processes are serialized with a
// file lock.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrNotFound indicates no key is stored for the provider.
var ErrNotFound = errors.New("api key not found")

// Store is the secret storage contract. Implementations must never persist
// keys alongside non-secret provider configuration.
type Store interface {
	APIKey(ctx context.Context, provider string) (string, error)
	StoreAPIKey(ctx context.Context, provider, key string) error
	DeleteAPIKey(ctx context.Context, provider string) error
}

const fileName = "keys.json"

type secretFile struct {
	Keys map[string]string `json:"keys"` // provider -> base64(ciphertext)
}

// FileStore is the file-backed Store implementation.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a FileStore rooted in the user config directory
// (~/.config/daybook on Linux). dir overrides the root; empty means default.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving config dir: %w", err)
		}
		dir = filepath.Join(base, "daybook")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating secret dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// APIKey returns the stored key for provider, or ErrNotFound.
func (s *FileStore) APIKey(ctx context.Context, provider string) (string, error) {
	provider = norm(provider)
	if provider == "" {
		return "", fmt.Errorf("provider required")
	}

	if err := s.lock.RLock(); err != nil {
		return "", fmt.Errorf("locking secret file: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	sf, err := load(s.path)
	if err != nil {
		return "", err
	}
	enc, ok := sf.Keys[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, provider)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decoding stored key: %w", err)
	}
	plain, err := decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("decrypting stored key: %w", err)
	}
	return string(plain), nil
}

// StoreAPIKey stores or replaces the key for provider.
func (s *FileStore) StoreAPIKey(ctx context.Context, provider, key string) error {
	provider = norm(provider)
	if provider == "" {
		return fmt.Errorf("provider required")
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking secret file: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	sf, err := load(s.path)
	if err != nil {
		return err
	}
	if sf.Keys == nil {
		sf.Keys = map[string]string{}
	}
	ct, err := encrypt([]byte(key))
	if err != nil {
		return err
	}
	sf.Keys[provider] = base64.StdEncoding.EncodeToString(ct)
	return save(s.path, sf)
}

// DeleteAPIKey removes the key for provider. Deleting an absent key is a
// no-op.
func (s *FileStore) DeleteAPIKey(ctx context.Context, provider string) error {
	provider = norm(provider)
	if provider == "" {
		return fmt.Errorf("provider required")
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking secret file: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	sf, err := load(s.path)
	if err != nil {
		return err
	}
	delete(sf.Keys, provider)
	return save(s.path, sf)
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parsing secret file: %w", err)
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func masterKey() []byte {
	user := os.Getenv("USER")
	hash := sha256.Sum256([]byte(fmt.Sprintf("daybook-%s-%s", runtime.GOOS, user)))
	return hash[:]
}

func encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemStore creates a MemStore seeded with keys (may be nil).
func NewMemStore(keys map[string]string) *MemStore {
	m := &MemStore{keys: map[string]string{}}
	for k, v := range keys {
		m.keys[norm(k)] = v
	}
	return m
}

// APIKey implements Store. Unknown providers yield an empty key rather than
// an error so registry tests can run without any seeded secrets.
func (m *MemStore) APIKey(_ context.Context, provider string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[norm(provider)], nil
}

// StoreAPIKey implements Store.
func (m *MemStore) StoreAPIKey(_ context.Context, provider, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[norm(provider)] = key
	return nil
}

// DeleteAPIKey implements Store.
func (m *MemStore) DeleteAPIKey(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, norm(provider))
	return nil
}
