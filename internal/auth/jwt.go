// Package auth provides authentication utilities for JWT token management.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Values of the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// DefaultLeeway absorbs clock skew between the API and its clients when
// checking exp and iat.
const DefaultLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptyUserID  = errors.New("userID cannot be empty")
)

// Claims are the registered claims plus the token type.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// JWTService signs and validates HS256 tokens. It supports dual-secret
// rotation: signing always uses the current secret, validation falls back to
// the previous one so tokens issued before a rotation stay valid.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

func NewJWTServiceWithLeeway(secret string, leeway time.Duration) *JWTService {
	return &JWTService{
		currentSecret: []byte(secret),
		leeway:        leeway,
	}
}

// NewJWTServiceWithRotation accepts the in-flight rotation pair. Pass an
// empty previousSecret when no rotation is in progress.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

func (s *JWTService) sign(userID, tokenType string, expiry time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Type: tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentSecret)
}

// GenerateAccessToken issues a short-lived access token for userID.
func (s *JWTService) GenerateAccessToken(userID string) (string, error) {
	return s.sign(userID, TokenTypeAccess, AccessTokenExpiry)
}

// GenerateRefreshToken issues a week-long refresh token for userID.
func (s *JWTService) GenerateRefreshToken(userID string) (string, error) {
	return s.sign(userID, TokenTypeRefresh, RefreshTokenExpiry)
}

func (s *JWTService) parseWith(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject alg-substitution tokens outright.
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// ValidateToken parses tokenString against the current secret, then the
// previous one when a rotation pair is configured.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parseWith(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, ErrInvalidToken) {
		return nil, ErrInvalidToken
	}

	if s.previousSecret != nil {
		claims, prevErr := s.parseWith(tokenString, s.previousSecret)
		if prevErr == nil {
			return claims, nil
		}
		if errors.Is(prevErr, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}
