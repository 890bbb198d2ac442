// Package auth mints and verifies the bearer tokens that carry a learner's
// identity to the lessonstate server.
//
// Tokens are HS256 JWTs whose subject is the identity. The identity is an
// opaque partition key; nothing here knows about accounts or sign-in.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roach88/lessonstate/internal/clock"
	"github.com/roach88/lessonstate/internal/state"
)

// MinSecretLength is the shortest HMAC secret NewIssuer accepts.
const MinSecretLength = 16

var (
	// ErrInvalidToken is returned for tokens that fail signature, issuer or
	// subject checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)

type claims struct {
	jwt.RegisteredClaims
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the clock used for issue and expiry times.
func WithClock(c clock.Clock) Option {
	return func(i *Issuer) {
		i.clock = c
	}
}

// Issuer mints and verifies identity tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer creates an Issuer. ttl is the lifetime of minted tokens.
func NewIssuer(secret []byte, issuer string, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		ttl:    ttl,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a token for id.
func (i *Issuer) Issue(id state.Identity) (string, error) {
	if id.IsGuest() {
		return "", errors.New("issue token: identity is empty")
	}
	now := i.clock.Now().UTC()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   string(id),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}

// Token implements syncclient.TokenSource.
func (i *Issuer) Token(id state.Identity) (string, error) {
	return i.Issue(id)
}

// Identify verifies token and returns the identity it carries.
func (i *Issuer) Identify(token string) (state.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return state.Guest, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return state.Guest, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if parsed.Issuer != i.issuer {
		return state.Guest, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if parsed.Subject == "" {
		return state.Guest, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if parsed.ExpiresAt == nil {
		return state.Guest, fmt.Errorf("%w: exp is required", ErrInvalidToken)
	}
	if !parsed.ExpiresAt.Time.After(i.clock.Now()) {
		return state.Guest, ErrExpiredToken
	}
	return state.Identity(parsed.Subject), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
