package envelope

import (
	"fmt"
	"time"

	"carrent-backend/internal/domain"
)

// Service binds the envelope primitives to a master key and to the
// persisted domain.EncryptionKey shape.
type Service struct {
	masterKey []byte
}

func NewService(masterKey []byte) (*Service, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Service{masterKey: masterKey}, nil
}

// NewEntityKey generates a key for a new owning entity, already wrapped for
// persistence.
func (s *Service) NewEntityKey(now time.Time) (*domain.EncryptionKey, error) {
	raw, iv, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	wrapped, err := WrapKey(raw, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}
	return &domain.EncryptionKey{EncryptedKey: wrapped, IV: iv, CreatedAt: now}, nil
}

// Seal encrypts a field value with the entity key k.
func (s *Service) Seal(k *domain.EncryptionKey, plaintext string) ([]byte, error) {
	raw, err := UnwrapKey(k.EncryptedKey, s.masterKey)
	if err != nil {
		return nil, err
	}
	return Encrypt([]byte(plaintext), raw, k.IV)
}

// Open decrypts a field value sealed with the entity key k.
func (s *Service) Open(k *domain.EncryptionKey, ciphertext []byte) (string, error) {
	raw, err := UnwrapKey(k.EncryptedKey, s.masterKey)
	if err != nil {
		return "", err
	}
	plain, err := Decrypt(ciphertext, raw, k.IV)
	if err != nil {
		return "", fmt.Errorf("decrypt field: %w", err)
	}
	return string(plain), nil
}
