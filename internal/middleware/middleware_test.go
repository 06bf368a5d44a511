package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"morphflux/internal/model"
	"morphflux/internal/ratelimit"
	"morphflux/internal/repository/repotest"
	"morphflux/internal/token"
)

const secret = "middleware-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
	Usage   map[string]int  `json:"usage"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// echoUser answers 200 with the id of the user in context, or "anonymous".
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u, ok := UserFromContext(r.Context()); ok {
		_, _ = w.Write([]byte(u.ID))
		return
	}
	_, _ = w.Write([]byte("anonymous"))
})

type failingLookup struct{}

func (failingLookup) GetUserByID(context.Context, string) (*model.User, error) {
	return nil, errors.New("connection refused")
}

func newUser(t *testing.T, store *repotest.Store, active bool) *model.User {
	t.Helper()
	u := &model.User{
		Email:            "ada@example.com",
		PasswordHash:     "x",
		SubscriptionTier: model.TierFree,
		MonthlyLimit:     10,
		IsActive:         active,
	}
	require.NoError(t, store.Users().CreateUser(context.Background(), u))
	return u
}

func accessToken(t *testing.T, tokens *token.Service, userID string) string {
	t.Helper()
	tok, err := tokens.IssueAccessToken(token.AccessPayload{UserID: userID, Email: "ada@example.com"})
	require.NoError(t, err)
	return tok
}

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	store := repotest.New()
	tokens := token.NewService(secret, time.Hour, 24*time.Hour)
	auth := NewAuthenticator(tokens, store.Users(), zerolog.Nop())
	h := auth.Authenticate(echoUser)

	active := newUser(t, store, true)
	rec := serve(h, "Bearer "+accessToken(t, tokens, active.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, active.ID, rec.Body.String())

	pastTokens := token.NewService(secret, time.Hour, 24*time.Hour, token.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	}))
	otherTokens := token.NewService("another-secret", time.Hour, 24*time.Hour)

	cases := []struct {
		name   string
		header string
		msg    string
		code   string
	}{
		{"missing header", "", "Access token required", ""},
		{"wrong scheme", "Basic abc", "Access token required", ""},
		{"expired", "Bearer " + accessToken(t, pastTokens, active.ID), "Access token has expired", "TOKEN_EXPIRED"},
		{"bad signature", "Bearer " + accessToken(t, otherTokens, active.ID), "Invalid access token", "TOKEN_INVALID"},
		{"garbage", "Bearer not.a.jwt", "Invalid access token", "TOKEN_INVALID"},
		{"unknown user", "Bearer " + accessToken(t, tokens, "00000000-0000-0000-0000-000000000000"), "User not found", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tc.msg, env.Error)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestAuthenticateRejectsDeactivatedAccount(t *testing.T) {
	store := repotest.New()
	tokens := token.NewService(secret, time.Hour, 24*time.Hour)
	u := newUser(t, store, false)

	rec := serve(NewAuthenticator(tokens, store.Users(), zerolog.Nop()).Authenticate(echoUser), "Bearer "+accessToken(t, tokens, u.ID))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Account is deactivated", decode(t, rec).Error)
}

func TestAuthenticateStoreFailure(t *testing.T) {
	tokens := token.NewService(secret, time.Hour, 24*time.Hour)
	rec := serve(NewAuthenticator(tokens, failingLookup{}, zerolog.Nop()).Authenticate(echoUser), "Bearer "+accessToken(t, tokens, "u-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication failed", decode(t, rec).Error)
}

func TestOptionalAuth(t *testing.T) {
	store := repotest.New()
	tokens := token.NewService(secret, time.Hour, 24*time.Hour)
	h := NewAuthenticator(tokens, store.Users(), zerolog.Nop()).OptionalAuth(echoUser)
	u := newUser(t, store, true)

	assert.Equal(t, "anonymous", serve(h, "").Body.String())
	assert.Equal(t, "anonymous", serve(h, "Bearer not.a.jwt").Body.String())
	assert.Equal(t, u.ID, serve(h, "Bearer "+accessToken(t, tokens, u.ID)).Body.String())
}

func withUser(h http.Handler, u *model.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if u != nil {
		req = req.WithContext(WithUser(req.Context(), u))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireVerifiedEmail(t *testing.T) {
	h := RequireVerifiedEmail(echoUser)

	assert.Equal(t, http.StatusUnauthorized, withUser(h, nil).Code)

	rec := withUser(h, &model.User{ID: "u"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", decode(t, rec).Code)

	assert.Equal(t, http.StatusOK, withUser(h, &model.User{ID: "u", EmailVerified: true}).Code)
}

func TestRequireTier(t *testing.T) {
	h := RequireTier(model.TierStudio)(echoUser)

	rec := withUser(h, &model.User{ID: "u", SubscriptionTier: model.TierCreator})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "INSUFFICIENT_SUBSCRIPTION", env.Code)
	assert.JSONEq(t, `{"required":"studio","current":"creator"}`, string(env.Details))

	assert.Equal(t, http.StatusOK, withUser(h, &model.User{ID: "u", SubscriptionTier: model.TierStudio}).Code)
	assert.Equal(t, http.StatusOK, withUser(h, &model.User{ID: "u", SubscriptionTier: model.TierEnterprise}).Code)
	assert.Equal(t, http.StatusForbidden, withUser(h, &model.User{ID: "u", SubscriptionTier: "platinum"}).Code, "unknown tiers rank as free")
}

func TestRequireQuotaBoundaries(t *testing.T) {
	h := RequireQuota(echoUser)

	for _, limit := range []int{1, 10, 100} {
		below := &model.User{ID: "u", MonthlyLimit: limit, MonthlyUsage: limit - 1}
		assert.Equal(t, http.StatusOK, withUser(h, below).Code, "limit %d", limit)

		at := &model.User{ID: "u", MonthlyLimit: limit, MonthlyUsage: limit}
		rec := withUser(h, at)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "limit %d", limit)
		env := decode(t, rec)
		assert.Equal(t, "USAGE_LIMIT_EXCEEDED", env.Code)
		assert.Equal(t, map[string]int{"current": limit, "limit": limit}, env.Usage)
	}

	unlimited := &model.User{ID: "u", MonthlyLimit: model.UnlimitedUsage, MonthlyUsage: 1_000_000}
	assert.Equal(t, http.StatusOK, withUser(h, unlimited).Code)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(ratelimit.NewIPLimiter(0.001, 2), zerolog.Nop())(echoUser)
	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("198.51.100.1:1111"))
	assert.Equal(t, http.StatusOK, hit("198.51.100.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, hit("198.51.100.1:3333"))
	assert.Equal(t, http.StatusOK, hit("198.51.100.2:1111"), "buckets are per address")
}

func TestPubSubAuth(t *testing.T) {
	validate := func(_ context.Context, tok, audience string) (*idtoken.Payload, error) {
		if audience != "https://api.example.com/internal" {
			return nil, errors.New("audience mismatch")
		}
		switch tok {
		case "worker":
			return &idtoken.Payload{Issuer: "https://accounts.google.com", Claims: map[string]any{"email": "push@p.iam.gserviceaccount.com"}}, nil
		case "stranger":
			return &idtoken.Payload{Claims: map[string]any{"email": "eve@example.com"}}, nil
		}
		return nil, errors.New("bad token")
	}
	cfg := PubSubAuthConfig{
		Audience:      "https://api.example.com/internal",
		ExpectedEmail: "push@p.iam.gserviceaccount.com",
		Validate:      validate,
	}
	h := PubSubAuth(cfg, zerolog.Nop())(echoUser)

	assert.Equal(t, http.StatusOK, serve(h, "Bearer worker").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "Bearer stranger").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "Bearer forged").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)

	skip := PubSubAuth(PubSubAuthConfig{SkipAuth: true}, zerolog.Nop())(echoUser)
	assert.Equal(t, http.StatusOK, serve(skip, "").Code)

	misconfigured := PubSubAuth(PubSubAuthConfig{Validate: validate}, zerolog.Nop())(echoUser)
	assert.Equal(t, http.StatusInternalServerError, serve(misconfigured, "Bearer worker").Code)
}
