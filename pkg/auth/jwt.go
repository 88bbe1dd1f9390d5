package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Config is the signing configuration of a TokenManager.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Claims are the session token claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	cfg Config
	now func() time.Time
}

type Option func(*TokenManager)

// WithClock overrides the time source, used by tests to move across expiry.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) { m.now = now }
}

func NewTokenManager(cfg Config, opts ...Option) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	m := &TokenManager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// DefaultTTL is the configured credential lifetime.
func (m *TokenManager) DefaultTTL() time.Duration {
	return m.cfg.TTL
}

// Issue signs a token for subject that expires ttl from now.
func (m *TokenManager) Issue(subject uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}
	now := m.now()
	// exp is encoded in whole seconds; report the instant the token actually lapses.
	expiresAt := now.Add(ttl).Truncate(jwt.TimePrecision)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies signature and expiry and returns the subject.
// Failures are apperrors with CodeExpired or CodeInvalidToken.
func (m *TokenManager) Parse(tokenString string) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, apperrors.Expired(err)
		}
		return uuid.Nil, apperrors.InvalidToken(err)
	}

	if m.cfg.Issuer != "" && claims.Issuer != m.cfg.Issuer {
		return uuid.Nil, apperrors.InvalidToken(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.InvalidToken(fmt.Errorf("invalid subject: %w", err))
	}
	return subject, nil
}
