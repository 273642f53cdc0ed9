package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed object layout: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
const (
	sealMagic  = "GCM3NCR0"
	saltLen    = 16
	nonceLen   = 12
	tagLen     = 16
	kdfRounds  = 100000
	keyLen     = 32
	headerSize = len(sealMagic) + saltLen + nonceLen
)

// ErrSealed is returned when a sealed object is read without a password.
var ErrSealed = errors.New("object is sealed")

// IsSealed reports whether data carries the sealed container header.
func IsSealed(data []byte) bool {
	return len(data) >= headerSize+tagLen && bytes.HasPrefix(data, []byte(sealMagic))
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts data with a key derived from password.
func Seal(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("seal: empty password")
	}
	out := make([]byte, headerSize, headerSize+len(data)+tagLen)
	copy(out, sealMagic)
	salt := out[len(sealMagic) : len(sealMagic)+saltLen]
	nonce := out[len(sealMagic)+saltLen : headerSize]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return gcm.Seal(out, nonce, data, nil), nil
}

// Unseal reverses Seal.
func Unseal(data []byte, password string) ([]byte, error) {
	if !IsSealed(data) {
		return nil, fmt.Errorf("sealed data too short or unknown format: %d bytes", len(data))
	}
	if password == "" {
		return nil, ErrSealed
	}
	salt := data[len(sealMagic) : len(sealMagic)+saltLen]
	nonce := data[len(sealMagic)+saltLen : headerSize]
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}
