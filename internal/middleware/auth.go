package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/response"
	"morphflux/internal/model"
	"morphflux/internal/token"
)

// Injected key type to avoid context collisions
type contextKey string

const userContextKey = contextKey("user")

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	return u, ok && u != nil
}

// UserLookup loads the account a token was issued for.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type Authenticator struct {
	tokens *token.Service
	users  UserLookup
	logger zerolog.Logger
}

func NewAuthenticator(tokens *token.Service, users UserLookup, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		users:  users,
		logger: logger.With().Str("middleware", "auth").Logger(),
	}
}

type authFailure struct {
	msg  string
	code string
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[len("Bearer "):])
	return tok, tok != ""
}

func (a *Authenticator) resolve(r *http.Request) (*model.User, *authFailure) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, &authFailure{msg: "Access token required"}
	}

	claims, err := a.tokens.Verify(raw, token.AccessAudience)
	switch {
	case errors.Is(err, token.ErrExpired):
		return nil, &authFailure{msg: "Access token has expired", code: "TOKEN_EXPIRED"}
	case err != nil:
		return nil, &authFailure{msg: "Invalid access token", code: "TOKEN_INVALID"}
	}

	u, err := a.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to load user for token")
		return nil, &authFailure{msg: "Authentication failed"}
	}
	if u == nil {
		return nil, &authFailure{msg: "User not found"}
	}
	if !u.IsActive {
		return nil, &authFailure{msg: "Account is deactivated"}
	}
	return u, nil
}

// Authenticate rejects requests without a valid access token for an active
// account and stores the loaded user in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, fail := a.resolve(r)
		if fail != nil {
			a.logger.Debug().Str("path", r.URL.Path).Str("reason", fail.msg).Msg("Request not authenticated")
			response.FailCode(w, http.StatusUnauthorized, fail.msg, fail.code, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// OptionalAuth attaches the user when the request carries a usable token
// and otherwise continues anonymously.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, fail := a.resolve(r); fail == nil {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}
