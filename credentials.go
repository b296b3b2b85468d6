package fixly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CredentialKey is the fixed key the bearer credential is cached
// under in local device storage.
const CredentialKey = "fixly_auth_token"

// CredentialStore caches the bearer credential between calls. It is
// read synchronously before each REST request; no other client state
// is persisted — conversations and notifications are rebuilt each
// session from REST plus live push.
type CredentialStore interface {
	Token() string
	SetToken(token string) error
	Clear() error
}

// ============================================================================
// MemoryCredentialStore
// ============================================================================

// MemoryCredentialStore keeps the credential in process memory.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryCredentialStore(token string) *MemoryCredentialStore {
	return &MemoryCredentialStore{token: token}
}

func (s *MemoryCredentialStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryCredentialStore) SetToken(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	return s.SetToken("")
}

// ============================================================================
// FileCredentialStore
// ============================================================================

// FileCredentialStore persists the credential as a small JSON document
// keyed by CredentialKey, mirroring the web console's local-storage
// cache.
type FileCredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentialStore creates a store at the given path. An empty
// path defaults to ~/.fixly/credentials.json.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir := filepath.Join(home, ".fixly")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create config directory: %w", err)
		}
		path = filepath.Join(dir, "credentials.json")
	}
	return &FileCredentialStore{path: path}, nil
}

func (s *FileCredentialStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc[CredentialKey]
}

func (s *FileCredentialStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(map[string]string{CredentialKey: token})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write credential cache: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
