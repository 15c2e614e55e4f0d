package security

import (
	"errors"
	"strconv"
	"time"

	"carrent-backend/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type for this endpoint")
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypePayment TokenType = "payment"
)

const issuer = "carrent-backend"

// Claims is shared by every token the API hands out. Payment tokens carry
// the booking they pay for and are bound to the booking's renter.
type Claims struct {
	UserID    int32       `json:"user_id"`
	Role      domain.Role `json:"role,omitempty"`
	BookingID int32       `json:"booking_id,omitempty"`
	Type      TokenType   `json:"type"`
	jwt.RegisteredClaims
}

type TokenManager interface {
	GenerateAccessToken(userID int32, role domain.Role) (string, error)
	GeneratePaymentToken(bookingID, renterID int32) (string, error)
	// ValidateToken parses the token and checks it is of the wanted type.
	ValidateToken(tokenString string, want TokenType) (*Claims, error)
}

type tokenManager struct {
	secret        []byte
	accessExpiry  time.Duration
	paymentExpiry time.Duration
	now           func() time.Time
}

func NewTokenManager(secret string, accessExpiry, paymentExpiry time.Duration) TokenManager {
	return &tokenManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		paymentExpiry: paymentExpiry,
		now:           time.Now,
	}
}

func (m *tokenManager) GenerateAccessToken(userID int32, role domain.Role) (string, error) {
	return m.sign(Claims{UserID: userID, Role: role, Type: TokenTypeAccess}, m.accessExpiry, "api-access")
}

func (m *tokenManager) GeneratePaymentToken(bookingID, renterID int32) (string, error) {
	return m.sign(Claims{UserID: renterID, BookingID: bookingID, Type: TokenTypePayment}, m.paymentExpiry, "booking-payment")
}

func (m *tokenManager) sign(claims Claims, ttl time.Duration, audience string) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   strconv.Itoa(int(claims.UserID)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
