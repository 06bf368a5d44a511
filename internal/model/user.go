package model

import "time"

// Tier is a subscription level. It governs the monthly quota and
// feature gates.
type Tier string

const (
	TierFree       Tier = "free"
	TierCreator    Tier = "creator"
	TierStudio     Tier = "studio"
	TierEnterprise Tier = "enterprise"
)

// UnlimitedUsage marks a monthly limit that is never enforced.
const UnlimitedUsage = -1

const defaultMonthlyLimit = 10

var tierRanks = map[Tier]int{
	TierFree:       0,
	TierCreator:    1,
	TierStudio:     2,
	TierEnterprise: 3,
}

var tierLimits = map[Tier]int{
	TierFree:       10,
	TierCreator:    100,
	TierStudio:     UnlimitedUsage,
	TierEnterprise: UnlimitedUsage,
}

// Rank orders tiers for feature gates. Unknown tiers rank with free.
func (t Tier) Rank() int {
	return tierRanks[t]
}

func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// MonthlyLimit is the default quota assigned when a user lands on the tier.
func (t Tier) MonthlyLimit() int {
	if limit, ok := tierLimits[t]; ok {
		return limit
	}
	return defaultMonthlyLimit
}

// User represents an account in the system
type User struct {
	ID                       string     `db:"id" json:"id"`
	Email                    string     `db:"email" json:"email"`
	PasswordHash             string     `db:"password_hash" json:"-"`
	FirstName                string     `db:"first_name" json:"first_name"`
	LastName                 string     `db:"last_name" json:"last_name"`
	AvatarURL                *string    `db:"avatar_url" json:"avatar_url"`
	EmailVerified            bool       `db:"email_verified" json:"email_verified"`
	EmailVerificationToken   *string    `db:"email_verification_token" json:"-"`
	EmailVerificationExpires *time.Time `db:"email_verification_expires" json:"-"`
	PasswordResetToken       *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpires     *time.Time `db:"password_reset_expires" json:"-"`
	RefreshToken             *string    `db:"refresh_token" json:"-"`
	RefreshTokenExpires      *time.Time `db:"refresh_token_expires" json:"-"`
	SubscriptionTier         Tier       `db:"subscription_tier" json:"subscription_tier"`
	StripeCustomerID         *string    `db:"stripe_customer_id" json:"-"`
	StripeSubscriptionID     *string    `db:"stripe_subscription_id" json:"-"`
	SubscriptionExpiresAt    *time.Time `db:"subscription_expires_at" json:"subscription_expires_at,omitempty"`
	MonthlyUsage             int        `db:"monthly_usage" json:"monthly_usage"`
	MonthlyLimit             int        `db:"monthly_limit" json:"monthly_limit"`
	IsActive                 bool       `db:"is_active" json:"is_active"`
	LastLoginAt              *time.Time `db:"last_login_at" json:"last_login_at"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// UnlimitedUsage reports whether the user's quota is never enforced.
func (u *User) UnlimitedUsage() bool {
	return u.MonthlyLimit < 0
}

// HasReachedMonthlyLimit reports whether a quota-gated action must be denied.
func (u *User) HasReachedMonthlyLimit() bool {
	if u.UnlimitedUsage() {
		return false
	}
	return u.MonthlyUsage >= u.MonthlyLimit
}

// RemainingUsage returns UnlimitedUsage for unlimited accounts.
func (u *User) RemainingUsage() int {
	if u.UnlimitedUsage() {
		return UnlimitedUsage
	}
	if remaining := u.MonthlyLimit - u.MonthlyUsage; remaining > 0 {
		return remaining
	}
	return 0
}

// UsagePercentage is rounded half up; unlimited accounts report 0.
func (u *User) UsagePercentage() int {
	if u.UnlimitedUsage() || u.MonthlyLimit == 0 {
		return 0
	}
	return (u.MonthlyUsage*200 + u.MonthlyLimit) / (2 * u.MonthlyLimit)
}
