package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers every token that must not be accepted.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is a more specific ErrInvalidToken.
	ErrExpiredToken = fmt.Errorf("token has expired: %w", ErrInvalidToken)
)

// Service issues and verifies signed, time-limited bearer tokens. It keeps no
// state, so tokens cannot be revoked before they expire.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
	issuer   string
	now      func() time.Time
}

// NewService constructs a token service. A non-positive ttl falls back to 30 minutes.
func NewService(secret string, ttl time.Duration, issuer string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		secret:   []byte(secret),
		tokenTTL: ttl,
		issuer:   issuer,
		now:      time.Now,
	}, nil
}

// IssueToken signs an HS256 token for subject.
func (s *Service) IssueToken(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature, algorithm and lifetime and returns the subject.
func (s *Service) VerifyToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
