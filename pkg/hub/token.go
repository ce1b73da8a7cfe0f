package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrUnauthorized is returned when an access token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = time.Hour

const tokenIssuer = "captionflow"

// TokenIssuer signs and validates HS256 hub access tokens.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer creates an issuer keyed by the hub access key.
func NewTokenIssuer(accessKey string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: []byte(accessKey), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for audience. subject may be empty.
func (i *TokenIssuer) Issue(audience, subject string) (string, error) {
	now := i.now()
	b := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Audience([]string{audience}).
		IssuedAt(now).
		Expiration(now.Add(i.ttl))
	if subject != "" {
		b = b.Subject(subject)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build access token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return string(signed), nil
}

// Validate checks the signature, expiry and audience of raw and returns the
// token subject.
func (i *TokenIssuer) Validate(raw, audience string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: no access token", ErrUnauthorized)
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, i.key),
		jwt.WithValidate(true),
		jwt.WithAudience(audience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return tok.Subject(), nil
}
