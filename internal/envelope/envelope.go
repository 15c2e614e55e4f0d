// Package envelope implements envelope encryption for personally
// identifiable fields. Each owning entity gets its own AES-256 key and IV;
// the key is stored wrapped (AES-GCM) under a single master key that never
// touches storage.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of entity and master keys (AES-256).
	KeySize = 32
	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize
)

var (
	ErrInvalidKey        = errors.New("invalid key length")
	ErrInvalidIV         = errors.New("invalid iv length")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidPadding    = errors.New("invalid padding")
)

const wrapInfo = "carrent envelope key wrapping"

// DeriveMasterKey stretches a configured secret into a KeySize master key
// with HKDF-SHA256.
func DeriveMasterKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(wrapInfo)), key); err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}

// ParseMasterKey decodes a base64 master secret and derives the master key.
func ParseMasterKey(encoded string, salt []byte) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return DeriveMasterKey(secret, salt)
}

// GenerateKey produces a fresh entity key and IV.
func GenerateKey() (rawKey, iv []byte, err error) {
	rawKey = make([]byte, KeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return rawKey, iv, nil
}

// WrapKey seals rawKey under masterKey. The random GCM nonce is prefixed to
// the returned blob.
func WrapKey(rawKey, masterKey []byte) ([]byte, error) {
	if len(rawKey) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, rawKey, nil), nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(wrapped, masterKey []byte) ([]byte, error) {
	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < aead.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
	rawKey, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return rawKey, nil
}

// Encrypt encrypts plaintext with AES-256-CBC and PKCS#7 padding.
func Encrypt(plaintext, rawKey, iv []byte) ([]byte, error) {
	block, err := newBlock(rawKey, iv)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. A wrong key or IV almost always surfaces as
// ErrInvalidPadding.
func Decrypt(ciphertext, rawKey, iv []byte) ([]byte, error) {
	block, err := newBlock(rawKey, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out, aes.BlockSize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIV
	}
	return aes.NewCipher(key)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
