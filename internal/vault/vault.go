// Package vault implements the encrypted credential store that keeps the
// agent's AWS credentials separate from the developer's. Entries are
// encrypted with AES-256-GCM under a master key derived from a passphrase
// via Argon2id. The developer's own credentials are never written here —
// the vault holds only agent service credentials and temporary
// assumed-role session material.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	VaultFileName = "no-wing.vault"

	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12 // AES-256-GCM standard nonce size
)

// Credentials is the secret triple stored for the agent profile or an
// assumed-role session.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// entry is a single encrypted secret in the vault.
type entry struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"` // includes GCM auth tag
}

// vaultFile is the on-disk representation.
type vaultFile struct {
	Salt    []byte            `json:"salt"`
	Entries map[string]*entry `json:"entries"`
}

// Vault manages encrypted credential storage.
type Vault struct {
	mu        sync.RWMutex
	masterKey []byte // held in memory only
	salt      []byte
	entries   map[string]*entry
	path      string // empty for memory-only mode
	dirty     bool
}

// DeriveKey derives a 256-bit master key from a passphrase and salt using
// Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Create initializes a new vault with a fresh salt.
func Create(path, passphrase string) (*Vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	v := &Vault{
		masterKey: DeriveKey(passphrase, salt),
		salt:      salt,
		entries:   make(map[string]*entry),
		path:      path,
		dirty:     true,
	}

	if path != "" {
		if err := v.flush(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Open loads an existing vault file and unlocks it with the passphrase.
// A wrong passphrase is detected by attempting to decrypt an entry.
func Open(path, passphrase string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parsing vault file: %w", err)
	}

	mk := DeriveKey(passphrase, vf.Salt)
	v := &Vault{
		masterKey: mk,
		salt:      vf.Salt,
		entries:   vf.Entries,
		path:      path,
	}
	if v.entries == nil {
		v.entries = make(map[string]*entry)
	}

	for key := range v.entries {
		if _, err := v.GetRaw(key); err != nil {
			for i := range mk {
				mk[i] = 0
			}
			return nil, fmt.Errorf("incorrect passphrase or corrupted vault")
		}
		break
	}

	return v, nil
}

// CreateMemoryOnly creates an in-memory vault that never touches disk.
func CreateMemoryOnly(passphrase string) (*Vault, error) {
	return Create("", passphrase)
}

// PutCredentials encrypts and stores a credential triple under the key.
func (v *Vault) PutCredentials(key string, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	return v.PutRaw(key, data)
}

// GetCredentials decrypts and returns the credential triple for the key.
func (v *Vault) GetCredentials(key string) (Credentials, error) {
	data, err := v.GetRaw(key)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds, nil
}

// PutRaw encrypts and stores an opaque secret under the given key.
func (v *Vault) PutRaw(key string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	gcm, err := v.gcm()
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	v.entries[key] = &entry{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(key)), // key as AAD
	}
	v.dirty = true
	return nil
}

// GetRaw decrypts and returns the secret stored under the given key.
func (v *Vault) GetRaw(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("vault key not found: %s", key)
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, e.Nonce, e.Ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypting vault entry: %w", err)
	}
	return plaintext, nil
}

// Delete removes a secret from the vault.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.entries[key]; !ok {
		return fmt.Errorf("vault key not found: %s", key)
	}
	delete(v.entries, key)
	v.dirty = true
	return nil
}

// Has checks if a key exists in the vault.
func (v *Vault) Has(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[key]
	return ok
}

// Keys returns all vault key names.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	return keys
}

// Save persists the vault to disk. No-op for memory-only vaults.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flush()
}

func (v *Vault) flush() error {
	if v.path == "" || !v.dirty {
		return nil
	}

	data, err := json.Marshal(vaultFile{Salt: v.salt, Entries: v.entries})
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}

	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}

	v.dirty = false
	return nil
}

// Close zeroes the master key and flushes pending writes.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.flush()
	for i := range v.masterKey {
		v.masterKey[i] = 0
	}
	return err
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// HashSecret returns a redaction-safe hash prefix for a secret value.
func HashSecret(secret []byte) string {
	h := sha256.Sum256(secret)
	return "sha256:" + hex.EncodeToString(h[:])[:8]
}
