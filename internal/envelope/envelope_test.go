package envelope

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveMasterKey([]byte("test-master-secret"), []byte("salt"))
	require.NoError(t, err)
	return key
}

func TestDeriveMasterKey(t *testing.T) {
	k1, err := DeriveMasterKey([]byte("secret"), []byte("salt-1"))
	require.NoError(t, err)
	k2, err := DeriveMasterKey([]byte("secret"), []byte("salt-1"))
	require.NoError(t, err)
	k3, err := DeriveMasterKey([]byte("secret"), []byte("salt-2"))
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveMasterKey(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseMasterKey(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("secret"))
	key, err := ParseMasterKey(encoded, []byte("salt-1"))
	require.NoError(t, err)
	expected, _ := DeriveMasterKey([]byte("secret"), []byte("salt-1"))
	assert.Equal(t, expected, key)

	_, err = ParseMasterKey("%%%", nil)
	assert.Error(t, err)
}

func TestWrapUnwrapKey(t *testing.T) {
	master := testMasterKey(t)
	raw, iv, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
	assert.Len(t, iv, IVSize)

	wrapped, err := WrapKey(raw, master)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(wrapped, raw))

	got, err := UnwrapKey(wrapped, master)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	t.Run("Wrong master key", func(t *testing.T) {
		other, _ := DeriveMasterKey([]byte("other"), nil)
		_, err := UnwrapKey(wrapped, other)
		assert.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := UnwrapKey(wrapped[:4], master)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	raw, iv, err := GenerateKey()
	require.NoError(t, err)

	for _, plain := range []string{"51A-123.45", "", "0901234567", "exactly-16-bytes"} {
		ct, err := Encrypt([]byte(plain), raw, iv)
		require.NoError(t, err)
		assert.Zero(t, len(ct)%IVSize)

		got, err := Decrypt(ct, raw, iv)
		require.NoError(t, err)
		assert.Equal(t, plain, string(got))
	}

	t.Run("Wrong key fails", func(t *testing.T) {
		ct, _ := Encrypt([]byte("51A-123.45"), raw, iv)
		other, _, _ := GenerateKey()
		got, err := Decrypt(ct, other, iv)
		if err == nil {
			assert.NotEqual(t, "51A-123.45", string(got))
		}
	})

	t.Run("Corrupted length", func(t *testing.T) {
		_, err := Decrypt([]byte("short"), raw, iv)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("Bad iv", func(t *testing.T) {
		_, err := Encrypt([]byte("x"), raw, iv[:8])
		assert.ErrorIs(t, err, ErrInvalidIV)
	})
}

func TestService_SealOpen(t *testing.T) {
	svc, err := NewService(testMasterKey(t))
	require.NoError(t, err)

	carKey, err := svc.NewEntityKey(time.Now())
	require.NoError(t, err)
	userKey, err := svc.NewEntityKey(time.Now())
	require.NoError(t, err)

	sealed, err := svc.Seal(carKey, "51A-123.45")
	require.NoError(t, err)

	plain, err := svc.Open(carKey, sealed)
	require.NoError(t, err)
	assert.Equal(t, "51A-123.45", plain)

	t.Run("Distinct keys per entity", func(t *testing.T) {
		other, err := svc.Seal(userKey, "51A-123.45")
		require.NoError(t, err)
		assert.NotEqual(t, sealed, other)
	})

	t.Run("Bad master key length", func(t *testing.T) {
		_, err := NewService([]byte("short"))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
