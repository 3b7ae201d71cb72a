package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.StandardClaims
}

// Tokens issues and verifies HS256 admin bearer tokens
type Tokens struct {
	issuer        string
	secretKey     []byte
	tokenLifetime time.Duration
}

type TokenOption func(*Tokens)

func WithTokenLifetime(d time.Duration) TokenOption {
	return func(t *Tokens) {
		t.tokenLifetime = d
	}
}

func NewTokens(secretKey string, opts ...TokenOption) *Tokens {
	t := &Tokens{
		issuer:        "depositgate",
		secretKey:     []byte(secretKey),
		tokenLifetime: time.Hour,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Issue signs a token for subject
func (t *Tokens) Issue(subject string) (string, error) {
	now := time.Now()

	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(t.tokenLifetime).Unix(),
			Issuer:    t.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	strToken, err := token.SignedString(t.secretKey)
	if err != nil {
		return "", fmt.Errorf("jwt encode: %w", err)
	}

	return strToken, nil
}

// Verify checks signature, lifetime and issuer of tokenString
func (t *Tokens) Verify(tokenString string) (*Claims, error) {
	c := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if !c.VerifyIssuer(t.issuer, true) {
		return nil, ErrInvalidToken
	}

	return c, nil
}
