// Package secrets stores the agent API key encrypted at rest. The vault is
// AES-GCM sealed JSON; the 32-byte master key lives beside it, created on
// first use. Losing master.key means re-entering the API key, nothing more.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const schemaVersion = 1

const masterKeyBytes = 32

// Store is the encrypted credential vault. All methods are safe for
// concurrent use; writes are read-modify-write under one lock.
type Store struct {
	vaultPath string
	keyPath   string
	mu        sync.Mutex
}

type Secrets struct {
	SchemaVersion int    `json:"schema_version"`
	AgentKey      string `json:"agent_api_key,omitempty"`
}

type vaultFile struct {
	SchemaVersion int    `json:"schema_version"`
	Nonce         string `json:"nonce"`
	Ciphertext    string `json:"ciphertext"`
}

func NewStore(vaultPath, keyPath string) *Store {
	return &Store{vaultPath: vaultPath, keyPath: keyPath}
}

func (s *Store) GetAgentKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.load()
	if err != nil {
		return "", err
	}
	return secrets.AgentKey, nil
}

func (s *Store) SetAgentKey(key string) error {
	return s.update(func(secrets *Secrets) {
		secrets.AgentKey = key
	})
}

func (s *Store) ClearAgentKey() error {
	return s.update(func(secrets *Secrets) {
		secrets.AgentKey = ""
	})
}

func (s *Store) update(mutate func(*Secrets)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.load()
	if err != nil {
		return err
	}
	mutate(secrets)
	return s.save(secrets)
}

// load reads and opens the vault. A missing vault is an empty one. Callers
// hold s.mu.
func (s *Store) load() (*Secrets, error) {
	data, err := os.ReadFile(s.vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Secrets{SchemaVersion: schemaVersion}, nil
		}
		return nil, err
	}
	var vault vaultFile
	if err := json.Unmarshal(data, &vault); err != nil {
		return nil, err
	}
	gcm, err := s.cipher()
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(vault.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(vault.Ciphertext)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, err
	}
	var secrets Secrets
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, err
	}
	if secrets.SchemaVersion == 0 {
		secrets.SchemaVersion = schemaVersion
	}
	return &secrets, nil
}

// save seals and writes the vault with a fresh nonce. Callers hold s.mu.
func (s *Store) save(secrets *Secrets) error {
	gcm, err := s.cipher()
	if err != nil {
		return err
	}
	plain, err := json.Marshal(secrets)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	vault := vaultFile{
		SchemaVersion: schemaVersion,
		Nonce:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:    base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	encoded, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.vaultPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.vaultPath, encoded, 0o600)
}

func (s *Store) cipher() (cipher.AEAD, error) {
	key, err := s.masterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// masterKey returns the key material, generating and persisting it on first
// use.
func (s *Store) masterKey() ([]byte, error) {
	key, err := os.ReadFile(s.keyPath)
	if err == nil {
		if len(key) != masterKeyBytes {
			return nil, errors.New("invalid master key length")
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	key = make([]byte, masterKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.keyPath, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
