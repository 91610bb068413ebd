package channeltoken

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that are malformed, badly signed, out of
	// scope, or already used
	ErrInvalidToken = errors.New("invalid channel token")
	// ErrExpiredToken is returned for well-formed tokens past their expiry
	ErrExpiredToken = errors.New("channel token expired")
)

// Validator verifies channel tokens minted by an Issuer sharing the same secret. Each
// token is accepted once; its id is remembered until the token would have expired.
type Validator struct {
	secret []byte
	now    func() time.Time

	mu   sync.Mutex
	used map[string]time.Time
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source, used in tests
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator returns a validator for tokens signed with secret
func NewValidator(secret []byte, opts ...ValidatorOption) *Validator {
	v := &Validator{
		secret: secret,
		now:    time.Now,
		used:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the token and consumes it, returning the user id it is scoped to
func (v *Validator) Validate(token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		return "", err
	}

	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prune(now)
	if _, seen := v.used[claims.ID]; seen {
		return "", ErrInvalidToken
	}
	v.used[claims.ID] = claims.ExpiresAt.Time
	return claims.Subject, nil
}

func (v *Validator) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	if claims.Scope != Scope || claims.Type != Type || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// prune forgets consumed ids whose tokens have expired; the lock must be held
func (v *Validator) prune(now time.Time) {
	for id, exp := range v.used {
		if !now.Before(exp) {
			delete(v.used, id)
		}
	}
}
