package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"

	"morphflux/internal/api/v1/response"
)

// IDTokenValidator checks a Google-signed OIDC token for audience.
type IDTokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

type PubSubAuthConfig struct {
	// SkipAuth disables the check, used against the local emulator.
	SkipAuth      bool
	Audience      string
	ExpectedEmail string
	// Validate defaults to idtoken.Validate.
	Validate IDTokenValidator
}

// PubSubAuth validates the OIDC token Pub/Sub attaches to push requests and
// requires it to be issued to the configured service account.
func PubSubAuth(cfg PubSubAuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	validate := cfg.Validate
	if validate == nil {
		validate = idtoken.Validate
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipAuth {
				logger.Debug().Msg("Skipping Pub/Sub authentication for local environment")
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Audience == "" || cfg.ExpectedEmail == "" {
				logger.Error().Msg("Pub/Sub auth configured without an audience or expected email; requests will be denied")
				response.Fail(w, http.StatusInternalServerError, "Configuration error: audience or email not set")
				return
			}

			parts := strings.Split(r.Header.Get("Authorization"), " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				logger.Warn().Msg("Missing or malformed Authorization header in Pub/Sub push request")
				response.Fail(w, http.StatusUnauthorized, "Unauthorized: missing authorization header")
				return
			}

			payload, err := validate(r.Context(), parts[1], cfg.Audience)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to validate Pub/Sub JWT")
				response.Fail(w, http.StatusUnauthorized, "Unauthorized: invalid token")
				return
			}

			email, _ := payload.Claims["email"].(string)
			if email != cfg.ExpectedEmail {
				logger.Warn().
					Str("token_email", email).
					Str("expected_email", cfg.ExpectedEmail).
					Msg("Pub/Sub JWT email does not match expected service account")
				response.Fail(w, http.StatusForbidden, "Forbidden: token email does not match expected service account")
				return
			}

			logger.Debug().Str("email", email).Str("issuer", payload.Issuer).Msg("Authenticated Pub/Sub push request")
			next.ServeHTTP(w, r)
		})
	}
}
