package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope format: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
const (
	gcmMagic        = "GCM3NCR0"
	pbkdf2Iter      = 100000
	saltLen         = 16
	nonceLen        = 12
	gcmTagLen       = 16
	encryptedFormat = gcmMagic
)

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iter, 32, sha256.New)
}

func encryptGCM(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	out := make([]byte, 0, len(gcmMagic)+saltLen+nonceLen+len(data)+gcmTagLen)
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

func isEncrypted(data []byte) bool {
	return len(data) >= len(gcmMagic) && bytes.Equal(data[:len(gcmMagic)], []byte(gcmMagic))
}

func decryptGCM(data []byte, password string) ([]byte, error) {
	if len(data) < len(gcmMagic)+saltLen+nonceLen+gcmTagLen {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	salt := data[8:24]
	nonce := data[24:36]
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, data[36:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}
