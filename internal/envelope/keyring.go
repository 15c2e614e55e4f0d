package envelope

import (
	"context"
	"errors"
	"fmt"

	"carrent-backend/internal/domain"
)

// ErrUndecryptable marks a field that was found but could not be opened.
var ErrUndecryptable = errors.New("field cannot be decrypted")

// KeyLoader fetches persisted entity keys.
type KeyLoader interface {
	GetByID(ctx context.Context, id int32) (*domain.EncryptionKey, error)
}

// Opener decrypts a field with an entity key.
type Opener interface {
	Open(k *domain.EncryptionKey, ciphertext []byte) (string, error)
}

// Keyring opens sealed fields by key id. Each key is loaded once per
// Keyring, so scope one to a single transaction.
type Keyring struct {
	keys   KeyLoader
	opener Opener
	cache  map[int32]*domain.EncryptionKey
}

func NewKeyring(keys KeyLoader, opener Opener) *Keyring {
	return &Keyring{keys: keys, opener: opener, cache: make(map[int32]*domain.EncryptionKey)}
}

// Open decrypts ciphertext with the key keyID. Load failures are returned
// wrapped as-is; decryption failures wrap ErrUndecryptable.
func (k *Keyring) Open(ctx context.Context, keyID int32, ciphertext []byte) (string, error) {
	key, ok := k.cache[keyID]
	if !ok {
		var err error
		if key, err = k.keys.GetByID(ctx, keyID); err != nil {
			return "", fmt.Errorf("load key %d: %w", keyID, err)
		}
		k.cache[keyID] = key
	}
	plain, err := k.opener.Open(key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: key %d: %v", ErrUndecryptable, keyID, err)
	}
	return plain, nil
}
