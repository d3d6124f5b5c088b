package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const serviceName = "aigateway"

// DefaultMasterKeyEnv is the environment variable consulted when the OS
// keyring has no master key stored.
const DefaultMasterKeyEnv = "AI_GATEWAY_MASTER_KEY"

// Vault encrypts provider credentials at rest using AES-256-GCM. Values are
// stored as "ivHex:cipherHex" where the IV (nonce) is freshly generated per
// Encrypt call.
//
// Decrypt is deliberately lenient: values without the ":" separator are
// treated as legacy plaintext and returned unchanged, and decryption
// failures degrade to returning the input rather than erroring. Callers that
// need hard failures should not exist for this boundary; the gateway prefers
// staying up with a possibly-invalid key over refusing all calls.
type Vault struct {
	key []byte // 32 bytes
}

// CredentialError indicates a malformed or missing provider secret.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return "credential error: " + e.Reason
}

// New creates a Vault from a master-key string. The key material is derived
// with SHA-256 so any non-empty passphrase works.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, &CredentialError{Reason: "master key is empty"}
	}
	sum := sha256.Sum256([]byte(masterKey))
	return &Vault{key: sum[:]}, nil
}

// NewFromKeyring creates a Vault with the master key resolved from the OS
// keyring (service "aigateway", account "master-key"), falling back to the
// AI_GATEWAY_MASTER_KEY environment variable.
func NewFromKeyring() (*Vault, error) {
	secret, err := keyring.Get(serviceName, "master-key")
	if err == nil && secret != "" {
		return New(secret)
	}
	if val := os.Getenv(DefaultMasterKeyEnv); val != "" {
		return New(val)
	}
	return nil, &CredentialError{
		Reason: fmt.Sprintf("no master key: not in keyring and %s not set", DefaultMasterKeyEnv),
	}
}

// StoreMasterKey saves the master key in the OS keyring.
func StoreMasterKey(key string) error {
	return keyring.Set(serviceName, "master-key", key)
}

// DeleteMasterKey removes the master key from the OS keyring.
func DeleteMasterKey() error {
	return keyring.Delete(serviceName, "master-key")
}

// Encrypt seals the plaintext and returns "ivHex:cipherHex". On failure the
// original plaintext is returned and the error is logged; the caller never
// has to handle an encryption error.
func (v *Vault) Encrypt(plaintext string) string {
	gcm, err := v.aead()
	if err != nil {
		log.Error().Err(err).Msg("vault: cipher init failed, storing value unencrypted")
		return plaintext
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		log.Error().Err(err).Msg("vault: iv generation failed, storing value unencrypted")
		return plaintext
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed)
}

// Decrypt reverses Encrypt. A value without the ":" separator is treated as
// already-plaintext and returned unchanged. Any decryption failure is logged
// and the original value is returned.
func (v *Vault) Decrypt(value string) string {
	ivHex, cipherHex, ok := strings.Cut(value, ":")
	if !ok {
		return value
	}

	plaintext, err := v.open(ivHex, cipherHex)
	if err != nil {
		log.Warn().Err(err).Msg("vault: decrypt failed, returning stored value as-is")
		return value
	}
	return plaintext
}

// IsEncrypted reports whether the value carries the "ivHex:cipherHex" shape.
// It is a format check only; it does not prove the value decrypts.
func IsEncrypted(value string) bool {
	ivHex, cipherHex, ok := strings.Cut(value, ":")
	if !ok {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	if _, err := hex.DecodeString(cipherHex); err != nil {
		return false
	}
	return len(ivHex) > 0 && len(cipherHex) > 0
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return gcm, nil
}

func (v *Vault) open(ivHex, cipherHex string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("vault: decode iv: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("vault: iv length %d, want %d", len(iv), gcm.NonceSize())
	}
	sealed, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: open: %w", err)
	}
	return string(plaintext), nil
}

// ValidateCredentialFormat checks that a raw API key looks usable before it
// is encrypted and persisted: non-empty, no whitespace, minimum length.
func ValidateCredentialFormat(key string) error {
	if key == "" {
		return &CredentialError{Reason: "api key is empty"}
	}
	if strings.ContainsAny(key, " \t\n\r") {
		return &CredentialError{Reason: "api key contains whitespace"}
	}
	if len(key) < 8 {
		return &CredentialError{Reason: "api key is too short"}
	}
	return nil
}
