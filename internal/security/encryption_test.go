package security

import (
	"testing"

	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, key string) EncryptionService {
	t.Helper()
	cfg := &config.Configuration{Secrets: config.SecretsConfig{EncryptionKey: key}}
	svc, err := NewEncryptionService(cfg, logger.NewNop())
	require.NoError(t, err)
	return svc
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	svc := newTestService(t, "a-test-master-secret")

	ciphertext, err := svc.Encrypt("sk_live_something_secret")
	require.NoError(t, err)
	assert.NotEqual(t, "sk_live_something_secret", ciphertext)

	plaintext, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_something_secret", plaintext)
}

func TestEncrypt_EmptyStringRoundTripsToEmpty(t *testing.T) {
	svc := newTestService(t, "a-test-master-secret")

	ciphertext, err := svc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ciphertext)

	plaintext, err := svc.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	encrypted := newTestService(t, "key-one")
	ciphertext, err := encrypted.Encrypt("secret-value")
	require.NoError(t, err)

	decryptedWithWrongKey := newTestService(t, "key-two")
	_, err = decryptedWithWrongKey.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestHash_IsDeterministicAndNotReversible(t *testing.T) {
	svc := newTestService(t, "a-test-master-secret")

	h1 := svc.Hash("value")
	h2 := svc.Hash("value")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, "value", h1)
}

func TestNewEncryptionService_RequiresKey(t *testing.T) {
	cfg := &config.Configuration{}
	_, err := NewEncryptionService(cfg, logger.NewNop())
	assert.Error(t, err)
}
