package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is the lifetime of a session token.
const DefaultTTL = 365 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Identity is what a session token proves about its bearer.
type Identity struct {
	UserID   string
	Email    string
	IssuedAt time.Time
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a token binding identity to now, valid for ttl.
func Issue(secret []byte, identity Identity, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue token: empty secret")
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return "", fmt.Errorf("issue token: empty subject")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Any failure is reported as
// ErrInvalidToken or ErrExpiredToken and nothing else.
func Verify(secret []byte, token string, now time.Time) (Identity, error) {
	if len(secret) == 0 || strings.TrimSpace(token) == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(token, parsed, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if parsed.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	identity := Identity{UserID: parsed.Subject, Email: parsed.Email}
	if parsed.IssuedAt != nil {
		identity.IssuedAt = parsed.IssuedAt.Time
	}
	return identity, nil
}

// ExtractBearer parses an Authorization header value of the form "Bearer <token>".
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// Service issues and verifies tokens with a fixed secret and clock.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewService(secret []byte, ttl time.Duration, clock clockwork.Clock) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{secret: secret, ttl: ttl, clock: clock}
}

func (s *Service) Issue(identity Identity) (string, error) {
	return Issue(s.secret, identity, s.clock.Now(), s.ttl)
}

func (s *Service) Verify(token string) (Identity, error) {
	return Verify(s.secret, token, s.clock.Now())
}
