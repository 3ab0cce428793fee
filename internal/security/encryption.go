// Package security provides at-rest encryption for payment-provider
// credentials, grounded on the teacher's AES-GCM encryption service and
// generalized onto ChaCha20-Poly1305 with an HKDF-derived subkey, the
// same AEAD-sealed-with-random-nonce shape the teacher uses.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/flexprice/flexcore/internal/config"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/logger"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// EncryptionService encrypts and hashes values at rest, used to protect
// per-project payment-provider API keys stored in config/Postgres.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Hash(value string) string
}

type chachaEncryptionService struct {
	key    []byte
	logger *logger.Logger
}

// cipherAEAD is the subset of cipher.AEAD this package needs, named so
// New/Encrypt/Decrypt don't repeat the chacha20poly1305 construction.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewEncryptionService derives a 32-byte ChaCha20-Poly1305 subkey from
// cfg.Secrets.EncryptionKey via HKDF-SHA256, so the configured secret
// never has to be exactly 32 bytes itself.
func NewEncryptionService(cfg *config.Configuration, log *logger.Logger) (EncryptionService, error) {
	if cfg.Secrets.EncryptionKey == "" {
		return nil, ierr.NewError("master encryption key not configured").
			WithHint("set FLEXCORE_SECRETS_ENCRYPTION_KEY").
			Mark(ierr.ErrSystem)
	}

	key, err := deriveKey(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, err
	}

	return &chachaEncryptionService{key: key, logger: log}, nil
}

func deriveKey(secret string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("flexcore/internal/security"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, ierr.WithError(err).WithHint("failed to derive encryption key").Mark(ierr.ErrSystem)
	}
	return key, nil
}

func (s *chachaEncryptionService) newAEAD() (cipherAEAD, error) {
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("failed to construct AEAD cipher").Mark(ierr.ErrSystem)
	}
	return aead, nil
}

func (s *chachaEncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := s.newAEAD()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ierr.WithError(err).WithHint("failed to generate nonce").Mark(ierr.ErrSystem)
	}

	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *chachaEncryptionService) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ierr.WithError(err).WithHint("failed to decode ciphertext").Mark(ierr.ErrValidation)
	}

	aead, err := s.newAEAD()
	if err != nil {
		return "", err
	}

	nonceSize := aead.NonceSize()
	if len(decoded) < nonceSize {
		return "", ierr.NewError("ciphertext too short").Mark(ierr.ErrValidation)
	}

	nonce, ciphertextBytes := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", ierr.WithError(err).WithHint("failed to decrypt ciphertext").Mark(ierr.ErrValidation)
	}

	return string(plaintext), nil
}

func (s *chachaEncryptionService) Hash(value string) string {
	if value == "" {
		return ""
	}
	hasher := sha256.New()
	hasher.Write([]byte(value))
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateRandomKey generates a random 32-byte master secret, for
// operators bootstrapping a new environment's encryption key.
func GenerateRandomKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", ierr.WithError(err).WithHint("failed to generate random key").Mark(ierr.ErrSystem)
	}
	return hex.EncodeToString(key), nil
}
