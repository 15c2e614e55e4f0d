package envelope

import (
	"context"
	"errors"
	"testing"
	"time"

	"carrent-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoKey = errors.New("no such key")

type countingLoader struct {
	keys  map[int32]*domain.EncryptionKey
	loads int
}

func (l *countingLoader) GetByID(_ context.Context, id int32) (*domain.EncryptionKey, error) {
	l.loads++
	k, ok := l.keys[id]
	if !ok {
		return nil, errNoKey
	}
	return k, nil
}

func TestKeyring_Open(t *testing.T) {
	svc, err := NewService(testMasterKey(t))
	require.NoError(t, err)
	key, err := svc.NewEntityKey(time.Now())
	require.NoError(t, err)
	plate, err := svc.Seal(key, "51A-123.45")
	require.NoError(t, err)
	phone, err := svc.Seal(key, "+84 90 000 0000")
	require.NoError(t, err)

	loader := &countingLoader{keys: map[int32]*domain.EncryptionKey{7: key}}
	ring := NewKeyring(loader, svc)
	ctx := context.Background()

	got, err := ring.Open(ctx, 7, plate)
	require.NoError(t, err)
	assert.Equal(t, "51A-123.45", got)
	got, err = ring.Open(ctx, 7, phone)
	require.NoError(t, err)
	assert.Equal(t, "+84 90 000 0000", got)
	assert.Equal(t, 1, loader.loads, "keys are loaded once")

	t.Run("Missing key", func(t *testing.T) {
		_, err := ring.Open(ctx, 8, plate)
		assert.ErrorIs(t, err, errNoKey)
		assert.NotErrorIs(t, err, ErrUndecryptable)
	})

	t.Run("Corrupt field", func(t *testing.T) {
		_, err := ring.Open(ctx, 7, plate[:5])
		assert.ErrorIs(t, err, ErrUndecryptable)
	})
}
