// Package channeltoken mints and verifies the short-lived tokens that authorise a client
// to open a push channel for exactly one user.
package channeltoken

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

const (
	// Scope is the only authority a channel token carries
	Scope = "channel"
	// Type distinguishes channel tokens from any other token signed with the same key
	Type = "channel"
)

var (
	// ErrMissingUser is returned when a token is requested without a user id
	ErrMissingUser = errors.New("channel token requires a user id")
	// ErrRateLimited is returned when a user requests tokens faster than allowed
	ErrRateLimited = errors.New("channel token rate limit exceeded")
)

// Claims is the payload of a channel token
type Claims struct {
	Scope string `json:"scope"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer mints channel tokens. It is safe for concurrent use.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	limit rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastPrune time.Time
}

// limiterPruneInterval is how often limiters that are back at full burst are dropped
const limiterPruneInterval = time.Minute

// Option configures an Issuer
type Option func(*Issuer)

// WithRateLimit allows each user r tokens per second with the given burst. A
// non-positive r disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(i *Issuer) {
		if r <= 0 {
			i.limit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		i.limit = rate.Limit(r)
		i.burst = burst
	}
}

// WithClock overrides the time source, used in tests
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer returns an issuer signing with secret. Tokens expire after ttl.
func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		limit:    rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a fresh token scoped to userID
func (i *Issuer) Issue(userID string) (models.ChannelToken, error) {
	if userID == "" {
		return models.ChannelToken{}, ErrMissingUser
	}
	now := i.now()
	if !i.allow(userID, now) {
		return models.ChannelToken{}, ErrRateLimited
	}

	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Scope: Scope,
		Type:  Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return models.ChannelToken{}, fmt.Errorf("sign channel token: %w", err)
	}

	return models.ChannelToken{
		Token:     signed,
		ExpiresIn: int64(i.ttl / time.Second),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

func (i *Issuer) allow(userID string, now time.Time) bool {
	if i.limit == rate.Inf {
		return true
	}
	i.mu.Lock()
	if now.Sub(i.lastPrune) >= limiterPruneInterval {
		i.pruneLimiters(now)
	}
	l, ok := i.limiters[userID]
	if !ok {
		l = rate.NewLimiter(i.limit, i.burst)
		i.limiters[userID] = l
	}
	i.mu.Unlock()
	return l.AllowN(now, 1)
}

// pruneLimiters drops limiters with a full bucket. A fresh limiter starts full, so
// dropping one does not change what its user may do. The lock must be held.
func (i *Issuer) pruneLimiters(now time.Time) {
	for id, l := range i.limiters {
		if l.TokensAt(now) >= float64(i.burst) {
			delete(i.limiters, id)
		}
	}
	i.lastPrune = now
}
