package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/linesmerrill/alarm-trigger-api/databases"
)

// DefaultSessionTTL is how long a session bearer token stays valid
const DefaultSessionTTL = 24 * time.Hour

var errInvalidCredentials = errors.New("invalid credentials")

type userContextKey struct{}

// Auth authenticates session requests with HTTP basic credentials or a cached bearer
// token minted by CreateToken.
type Auth struct {
	DB            databases.UserDatabase
	authenticator auth.Authenticator
	cache         store.Cache
}

// NewAuth sets up the go-guardian basic and bearer strategies backed by the user store
func NewAuth(ctx context.Context, db databases.UserDatabase, sessionTTL time.Duration) *Auth {
	a := &Auth{
		DB:            db,
		authenticator: auth.New(),
		cache:         store.NewFIFO(ctx, sessionTTL),
	}
	basicStrategy := basic.New(a.ValidateUser, a.cache)
	tokenStrategy := bearer.New(bearer.NoOpAuthenticate, a.cache)

	a.authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	a.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
	return a
}

// Middleware rejects unauthenticated requests and attaches the user info to the request
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticator.Authenticate(r)
		if err != nil {
			zap.S().Debugw("unauthorized", "url", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugw("user authenticated", "userId", user.ID())
		next.ServeHTTP(w, RequestWithUser(user, r))
	})
}

// RequestWithUser returns a shallow copy of r carrying the authenticated user
func RequestWithUser(user auth.Info, r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey{}, user))
}

// User returns the authenticated user attached by Middleware, or nil
func User(r *http.Request) auth.Info {
	user, _ := r.Context().Value(userContextKey{}).(auth.Info)
	return user
}

// UserID returns the id of the authenticated user of r, or "" when there is none
func UserID(r *http.Request) string {
	user := User(r)
	if user == nil {
		return ""
	}
	return user.ID()
}

// CreateToken mints a session bearer token for the authenticated user
func (a *Auth) CreateToken(w http.ResponseWriter, r *http.Request) {
	user := User(r)
	if user == nil {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	token := uuid.New().String()
	tokenStrategy := a.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Append(tokenStrategy, token, user, r); err != nil {
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token": token,
		"_id":   user.ID(),
	})
}

// ValidateUser checks email and password against the user store
func (a *Auth) ValidateUser(ctx context.Context, r *http.Request, email, password string) (auth.Info, error) {
	ctx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	user, err := a.DB.FindByEmail(ctx, email)
	if errors.Is(err, databases.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Details.Password), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return auth.NewDefaultUser(user.Details.Email, user.ID, nil, nil), nil
}

// RevokeToken revokes the bearer token of the request
func (a *Auth) RevokeToken(w http.ResponseWriter, r *http.Request) {
	reqToken, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || reqToken == "" {
		http.Error(w, "bearer token required", http.StatusBadRequest)
		return
	}

	tokenStrategy := a.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Revoke(tokenStrategy, reqToken, r); err != nil {
		http.Error(w, "failed to revoke token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"revoked token": reqToken})
}
