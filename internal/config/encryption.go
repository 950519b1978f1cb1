package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptedPrefix  = "ENC["
	encryptedSuffix  = "]"
	pbkdf2Iterations = 100000
	keySize          = 32
)

var keySalt = []byte("sparkify-dwh-cfg")

// getEncryptionKey derives the key from SPARKIFY_ENCRYPTION_KEY, falling back
// to a machine specific passphrase.
func getEncryptionKey() []byte {
	passphrase := os.Getenv("SPARKIFY_ENCRYPTION_KEY")
	if passphrase == "" {
		hostname, _ := os.Hostname()
		homeDir, _ := os.UserHomeDir()
		passphrase = fmt.Sprintf("%s-%s-sparkify", hostname, homeDir)
	}
	return pbkdf2.Key([]byte(passphrase), keySalt, pbkdf2Iterations, keySize, sha256.New)
}

// EncryptValue encrypts a config value using AES-256-GCM. The result can be
// pasted into dwh.cfg in place of the plain text secret.
func EncryptValue(plain string) (string, error) {
	if plain == "" || IsEncrypted(plain) {
		return plain, nil
	}

	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext) + encryptedSuffix, nil
}

// DecryptValue reverses EncryptValue. Plain values are returned unchanged.
func DecryptValue(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	encoded := strings.TrimSuffix(strings.TrimPrefix(value, encryptedPrefix), encryptedSuffix)
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted value: %w", err)
	}

	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value is in ENC[...] form.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, encryptedSuffix)
}

func newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(getEncryptionKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
