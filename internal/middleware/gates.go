package middleware

import (
	"fmt"
	"net/http"

	"morphflux/internal/api/v1/response"
	"morphflux/internal/model"
)

// The gates below run after Authenticate and answer 401 if it did not.

func RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			response.Fail(w, http.StatusUnauthorized, "Access token required")
			return
		}
		if !u.EmailVerified {
			response.FailCode(w, http.StatusForbidden, "Email verification required", "EMAIL_NOT_VERIFIED", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTier denies users whose subscription ranks below required.
func RequireTier(required model.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				response.Fail(w, http.StatusUnauthorized, "Access token required")
				return
			}
			if u.SubscriptionTier.Rank() < required.Rank() {
				response.FailCode(w, http.StatusForbidden,
					fmt.Sprintf("Subscription tier '%s' or higher required", required),
					"INSUFFICIENT_SUBSCRIPTION",
					map[string]model.Tier{"required": required, "current": u.SubscriptionTier},
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireQuota denies users who used up their monthly allowance. The
// routed operation charges the usage itself once it succeeds.
func RequireQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			response.Fail(w, http.StatusUnauthorized, "Access token required")
			return
		}
		if u.HasReachedMonthlyLimit() {
			response.JSON(w, http.StatusTooManyRequests, response.Envelope{
				Error: "Monthly usage limit reached",
				Code:  "USAGE_LIMIT_EXCEEDED",
				Usage: map[string]int{"current": u.MonthlyUsage, "limit": u.MonthlyLimit},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
