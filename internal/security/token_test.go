package security

import (
	"testing"
	"time"

	"carrent-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenManager_AccessToken(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour, time.Hour)

	tok, err := m.GenerateAccessToken(7, domain.RoleOwner)
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, int32(7), claims.UserID)
	assert.Equal(t, domain.RoleOwner, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = m.ValidateToken(tok, TokenTypePayment)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestTokenManager_PaymentToken(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour, 24*time.Hour)

	tok, err := m.GeneratePaymentToken(11, 3)
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok, TokenTypePayment)
	require.NoError(t, err)
	assert.Equal(t, int32(11), claims.BookingID)
	assert.Equal(t, int32(3), claims.UserID)
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager(testSecret, time.Minute, time.Minute).(*tokenManager)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }

	tok, err := m.GenerateAccessToken(1, domain.RoleDriver)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(tok, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	tok, err := NewTokenManager(testSecret, time.Hour, time.Hour).GenerateAccessToken(1, domain.RoleDriver)
	require.NoError(t, err)

	_, err = NewTokenManager("another-secret-another-secret-xx", time.Hour, time.Hour).ValidateToken(tok, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenManager(testSecret, time.Hour, time.Hour).ValidateToken("garbage", TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
