package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Sealer encrypts per-tenant registration secrets at rest with AES-256-GCM.
// The tenant id is bound as additional data so a sealed value cannot be moved
// between tenant rows.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a hex-encoded 32-byte key.
func NewSealer(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secrets/sealer: invalid hex key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("secrets/sealer: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets/sealer: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets/sealer: new gcm: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal returns nonce||ciphertext for plaintext bound to tenantID.
func (s *Sealer) Seal(tenantID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secrets/sealer: generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, []byte(tenantID)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(tenantID string, sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("secrets/sealer: ciphertext too short")
	}

	nonce, body := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, body, []byte(tenantID))
	if err != nil {
		return nil, fmt.Errorf("secrets/sealer: open failed: %w", err)
	}

	return plaintext, nil
}
