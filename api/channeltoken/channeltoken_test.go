package channeltoken_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/alarm-trigger-api/api/channeltoken"
)

var secret = []byte("test-secret")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func TestIssue(t *testing.T) {
	c := newClock()
	issuer := channeltoken.NewIssuer(secret, 5*time.Minute, channeltoken.WithClock(c.Now))

	tok, err := issuer.Issue("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, int64(300), tok.ExpiresIn)
	assert.Equal(t, c.Now().Add(5*time.Minute), tok.ExpiresAt)

	claims := &channeltoken.Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok.Token, claims)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, channeltoken.Scope, claims.Scope)
	assert.Equal(t, channeltoken.Type, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueUnique(t *testing.T) {
	issuer := channeltoken.NewIssuer(secret, time.Minute)

	a, err := issuer.Issue("user-1")
	require.NoError(t, err)
	b, err := issuer.Issue("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestIssueMissingUser(t *testing.T) {
	issuer := channeltoken.NewIssuer(secret, time.Minute)

	_, err := issuer.Issue("")
	assert.ErrorIs(t, err, channeltoken.ErrMissingUser)
}

func TestIssueRateLimited(t *testing.T) {
	c := newClock()
	issuer := channeltoken.NewIssuer(secret, time.Minute,
		channeltoken.WithClock(c.Now),
		channeltoken.WithRateLimit(1, 2),
	)

	_, err := issuer.Issue("user-1")
	require.NoError(t, err)
	_, err = issuer.Issue("user-1")
	require.NoError(t, err)
	_, err = issuer.Issue("user-1")
	assert.ErrorIs(t, err, channeltoken.ErrRateLimited)

	// other users have their own budget
	_, err = issuer.Issue("user-2")
	assert.NoError(t, err)

	c.Advance(time.Second)
	_, err = issuer.Issue("user-1")
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	c := newClock()
	issuer := channeltoken.NewIssuer(secret, 5*time.Minute, channeltoken.WithClock(c.Now))
	validator := channeltoken.NewValidator(secret, channeltoken.WithValidatorClock(c.Now))

	tok, err := issuer.Issue("user-1")
	require.NoError(t, err)

	userID, err := validator.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// single use
	_, err = validator.Validate(tok.Token)
	assert.ErrorIs(t, err, channeltoken.ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	c := newClock()
	issuer := channeltoken.NewIssuer(secret, time.Minute, channeltoken.WithClock(c.Now))
	validator := channeltoken.NewValidator(secret, channeltoken.WithValidatorClock(c.Now))

	tok, err := issuer.Issue("user-1")
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	_, err = validator.Validate(tok.Token)
	assert.ErrorIs(t, err, channeltoken.ErrExpiredToken)
}

func TestValidateRejects(t *testing.T) {
	c := newClock()
	now := c.Now()

	sign := func(method jwt.SigningMethod, key interface{}, claims channeltoken.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	base := func() channeltoken.Claims {
		return channeltoken.Claims{
			Scope: channeltoken.Scope,
			Type:  channeltoken.Type,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ID:        "jti-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
		}
	}

	wrongScope := base()
	wrongScope.Scope = "session"
	wrongType := base()
	wrongType.Type = "access"
	noSubject := base()
	noSubject.Subject = ""
	noExpiry := base()
	noExpiry.ExpiresAt = nil

	good := sign(jwt.SigningMethodHS256, secret, base())

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), base())},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, secret, base())},
		{"none algorithm", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base())},
		{"wrong scope", sign(jwt.SigningMethodHS256, secret, wrongScope)},
		{"wrong type", sign(jwt.SigningMethodHS256, secret, wrongType)},
		{"no subject", sign(jwt.SigningMethodHS256, secret, noSubject)},
		{"no expiry", sign(jwt.SigningMethodHS256, secret, noExpiry)},
		{"tampered", good[:strings.LastIndex(good, ".")] + ".AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := channeltoken.NewValidator(secret, channeltoken.WithValidatorClock(c.Now))
			_, err := validator.Validate(tt.token)
			assert.ErrorIs(t, err, channeltoken.ErrInvalidToken)
		})
	}
}

func TestValidateConcurrentSingleUse(t *testing.T) {
	issuer := channeltoken.NewIssuer(secret, time.Minute)
	validator := channeltoken.NewValidator(secret)

	tok, err := issuer.Issue("user-1")
	require.NoError(t, err)

	var mu sync.Mutex
	accepted := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := validator.Validate(tok.Token); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}
