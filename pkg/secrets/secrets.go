package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const keySize = 32

// ErrNotSetUp is returned when the credentials file does not exist yet.
var ErrNotSetUp = errors.New("credentials file not found, run setup first")

// Credentials is the decrypted credential bundle.
type Credentials struct {
	ThreadsToken      string          `json:"threads_token"`
	SpreadsheetID     string          `json:"spreadsheet_id"`
	GoogleCredentials json.RawMessage `json:"google_credentials"`
}

var serviceAccountFields = []string{"type", "project_id", "private_key_id", "private_key", "client_email"}

// ValidateServiceAccount checks that raw looks like a Google service-account
// key file before it gets encrypted into the bundle.
func ValidateServiceAccount(raw []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing service account json: %w", err)
	}
	var missing []string
	for _, field := range serviceAccountFields {
		if _, ok := doc[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("service account json missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// GenerateKey writes a fresh random key to path with owner-only permissions.
// It refuses to overwrite an existing key.
func GenerateKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key file already exists: %s", path)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// Store encrypts and decrypts the credential bundle with AES-256-GCM using
// the key stored on disk.
type Store struct {
	aead      cipher.AEAD
	credsPath string
}

// Open loads the key at keyPath and prepares a store for credsPath.
func Open(keyPath, credsPath string) (*Store, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key file holds %d bytes, want %d", len(key), keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initialising cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initialising gcm: %w", err)
	}

	return &Store{aead: aead, credsPath: credsPath}, nil
}

// Save encrypts the bundle and writes it to the credentials path with
// owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(s.credsPath), 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	if err := os.WriteFile(s.credsPath, sealed, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and decrypts the bundle.
func (s *Store) Load() (*Credentials, error) {
	sealed, err := os.ReadFile(s.credsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotSetUp
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("credentials file is truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decrypting credentials: wrong key or corrupted file")
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return &creds, nil
}
