package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvPassphrase overrides the generated vault passphrase
	EnvPassphrase = "VKHARVEST_PASSPHRASE"

	// passphraseFile holds the generated passphrase next to the vault
	passphraseFile = ".passphrase"

	vaultVersion    = 2
	vaultSaltSize   = 32
	vaultKeySize    = 32
	vaultIterations = 100000
)

// vaultAAD binds the sealed payload to the vault format
var vaultAAD = []byte("vkharvest token vault v2")

// vaultFile is the on-disk form of the token vault. Only Sealed is secret.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Sealed   string    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// tokenVault is the decrypted vault content, keyed by credential name
type tokenVault struct {
	salt   []byte
	tokens map[string]Credential
}

// EncryptedFileStore keeps named access tokens in one AES-GCM sealed file.
// The key is derived from a passphrase with PBKDF2. The passphrase comes
// from VKHARVEST_PASSPHRASE or a generated file beside the vault.
type EncryptedFileStore struct {
	path       string
	passphrase string

	mu sync.RWMutex

	keyMu sync.Mutex
	keys  map[string][]byte // derived key per salt
}

// NewEncryptedFileStore opens the vault at path, creating its directory
// and passphrase on first use
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	passphrase, err := loadPassphrase(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}

	return &EncryptedFileStore{
		path:       path,
		passphrase: passphrase,
		keys:       make(map[string][]byte),
	}, nil
}

// Store adds or replaces the token saved under cred.Name
func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" || cred.AccessToken == "" {
		return ErrInvalidCredentials
	}

	return e.update(func(v *tokenVault) error {
		saved := *cred
		if saved.LastModified.IsZero() {
			saved.LastModified = time.Now()
		}
		v.tokens[saved.Name] = saved
		return nil
	})
}

// Retrieve returns the token saved under name
func (e *EncryptedFileStore) Retrieve(name string) (*Credential, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return nil, err
	}
	cred, ok := v.tokens[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns every saved token, newest first
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(v.tokens))
	for _, cred := range v.tokens {
		c := cred
		creds = append(creds, &c)
	}
	sort.Slice(creds, func(i, j int) bool {
		if !creds[i].LastModified.Equal(creds[j].LastModified) {
			return creds[i].LastModified.After(creds[j].LastModified)
		}
		return creds[i].Name < creds[j].Name
	})
	return creds, nil
}

// Delete removes the token saved under name. The vault file goes with
// the last token.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	return e.update(func(v *tokenVault) error {
		if _, ok := v.tokens[name]; !ok {
			return ErrCredentialsNotFound
		}
		delete(v.tokens, name)
		return nil
	})
}

// Exists reports whether a token is saved under name
func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

// update applies fn to the vault and writes the result back
func (e *EncryptedFileStore) update(fn func(v *tokenVault) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	if len(v.tokens) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty vault: %w", err)
		}
		return nil
	}
	return e.write(v)
}

// readFile parses the vault envelope. A missing vault is nil without error.
func (e *EncryptedFileStore) readFile() (*vaultFile, error) {
	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var f vaultFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	if f.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported vault version %d", f.Version)
	}
	return &f, nil
}

// read decrypts the vault. A missing vault reads as empty.
func (e *EncryptedFileStore) read() (*tokenVault, error) {
	v := &tokenVault{tokens: make(map[string]Credential)}

	f, err := e.readFile()
	if err != nil || f == nil {
		return v, err
	}

	if v.salt, err = base64.StdEncoding.DecodeString(f.Salt); err != nil {
		return nil, fmt.Errorf("failed to decode vault salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault payload: %w", err)
	}

	plain, err := open(e.key(v.salt), sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt vault (wrong %s?): %w", EnvPassphrase, err)
	}
	if err := json.Unmarshal(plain, &v.tokens); err != nil {
		return nil, fmt.Errorf("failed to parse vault tokens: %w", err)
	}
	return v, nil
}

// write seals the vault and replaces the file atomically
func (e *EncryptedFileStore) write(v *tokenVault) error {
	if v.salt == nil {
		v.salt = make([]byte, vaultSaltSize)
		if _, err := rand.Read(v.salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(v.tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	sealed, err := seal(e.key(v.salt), plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt vault: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     base64.StdEncoding.EncodeToString(v.salt),
		Sealed:   base64.StdEncoding.EncodeToString(sealed),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	return writeFileAtomic(e.path, content)
}

// key derives, once per salt, the AES key for the vault
func (e *EncryptedFileStore) key(salt []byte) []byte {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()

	id := string(salt)
	if k, ok := e.keys[id]; ok {
		return k
	}
	k := pbkdf2.Key([]byte(e.passphrase), salt, vaultIterations, vaultKeySize, sha256.New)
	e.keys[id] = k
	return k
}

// loadPassphrase returns the configured passphrase, or the one generated
// for dir on first use
func loadPassphrase(dir string) (string, error) {
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		return pass, nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil {
		if pass := strings.TrimSpace(string(content)); pass != "" {
			return pass, nil
		}
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := base64.RawURLEncoding.EncodeToString(b)
	if err := writeFileAtomic(path, []byte(pass)); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}

// writeFileAtomic writes content to a synced temporary file and renames it
// over path
func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// seal encrypts plain with AES-GCM, prefixing the random nonce
func seal(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, vaultAAD), nil
}

// open reverses seal
func open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, vaultAAD)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
