package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name secrets are filed under in the OS
// keychain.
const keyringService = "recall"

const (
	keyringPrefix = "keyring:"
	cipherPrefix  = "aes-gcm:"
)

// ResolveSecret turns a config value into its secret. Three forms are
// accepted: "keyring:<name>" reads the OS keychain, "aes-gcm:<blob>"
// decrypts with encKey, anything else is returned verbatim.
func ResolveSecret(value, encKey string) (string, error) {
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, keyringPrefix):
		name := strings.TrimPrefix(value, keyringPrefix)
		secret, err := keyring.Get(keyringService, name)
		if err != nil {
			return "", fmt.Errorf("keyring %q: %w", name, err)
		}
		return secret, nil
	case strings.HasPrefix(value, cipherPrefix):
		return decryptValue(value, encKey)
	default:
		return value, nil
	}
}

// StoreSecret saves a secret in the OS keychain and returns the
// "keyring:" reference to write into the config file.
func StoreSecret(name, secret string) (string, error) {
	if err := keyring.Set(keyringService, name, secret); err != nil {
		return "", fmt.Errorf("keyring set %q: %w", name, err)
	}
	return keyringPrefix + name, nil
}

// DeleteSecret removes a secret from the OS keychain. Missing entries
// are not an error.
func DeleteSecret(name string) error {
	err := keyring.Delete(keyringService, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %q: %w", name, err)
	}
	return nil
}

// EncryptSecret encrypts a value with AES-256-GCM for storage in the
// config file, returning "aes-gcm:" + base64(nonce+ciphertext+tag).
// With an empty key the value passes through unchanged.
func EncryptSecret(plaintext, encKey string) (string, error) {
	if encKey == "" || plaintext == "" {
		return plaintext, nil
	}
	key, err := deriveKey(encKey)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptValue(value, encKey string) (string, error) {
	if encKey == "" {
		return "", errors.New("encrypted config value but no encryption_key set")
	}
	key, err := deriveKey(encKey)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("encrypted value is not base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("encrypted value too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.New("decrypt failed: wrong key or corrupted value")
	}
	return string(plain), nil
}

// deriveKey accepts a 32-byte key as 64 hex chars, 44 base64 chars or
// 32 raw bytes.
func deriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 32 bytes, hex or base64 encoded")
}

// PostgresDSN resolves the configured DSN through the secret chain.
func (c *Config) PostgresDSN() (string, error) {
	return ResolveSecret(c.Store.PostgresDSN, c.Store.EncryptionKey)
}

// AuthToken resolves the serve auth token through the secret chain.
func (c *Config) AuthToken() (string, error) {
	return ResolveSecret(c.Serve.AuthToken, c.Store.EncryptionKey)
}

// BackupSecretKey resolves the S3 secret key through the secret chain.
func (c *Config) BackupSecretKey() (string, error) {
	return ResolveSecret(c.Backup.SecretAccessKey, c.Store.EncryptionKey)
}
