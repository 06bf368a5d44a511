package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"morphflux/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileUpdate carries the user-editable fields; nil leaves a field as is.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	AvatarURL *string
}

type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// GetUserByVerificationToken only matches tokens that expire after now.
	GetUserByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// GetUserByResetToken only matches tokens that expire after now.
	GetUserByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*model.User, error)
	SetEmailVerificationToken(ctx context.Context, id, token string, expires time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time) error
	// UpdatePassword stores a new hash and clears any pending reset token.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// SetRefreshToken overwrites the stored refresh token; nil clears it.
	SetRefreshToken(ctx context.Context, id string, token *string, expires *time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// IncrementUsage adds one to monthly_usage and returns the new value.
	IncrementUsage(ctx context.Context, id string) (int, error)
	// ResetMonthlyUsage zeroes every non-zero counter and returns how many rows changed.
	ResetMonthlyUsage(ctx context.Context) (int64, error)
	// Deactivate disables the account, frees its email and revokes its refresh token.
	Deactivate(ctx context.Context, id, anonymizedEmail string) error
	DeleteUser(ctx context.Context, id string) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `
        id, email, password_hash, first_name, last_name, avatar_url,
        email_verified, email_verification_token, email_verification_expires,
        password_reset_token, password_reset_expires, refresh_token, refresh_token_expires,
        subscription_tier, stripe_customer_id, stripe_subscription_id, subscription_expires_at,
        monthly_usage, monthly_limit, is_active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.AvatarURL,
		&u.EmailVerified,
		&u.EmailVerificationToken,
		&u.EmailVerificationExpires,
		&u.PasswordResetToken,
		&u.PasswordResetExpires,
		&u.RefreshToken,
		&u.RefreshTokenExpires,
		&u.SubscriptionTier,
		&u.StripeCustomerID,
		&u.StripeSubscriptionID,
		&u.SubscriptionExpiresAt,
		&u.MonthlyUsage,
		&u.MonthlyLimit,
		&u.IsActive,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) CreateUser(ctx context.Context, u *model.User) error {
	q := `
        INSERT INTO users (
            email, password_hash, first_name, last_name, avatar_url,
            email_verification_token, email_verification_expires,
            subscription_tier, monthly_usage, monthly_limit, is_active
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING ` + userColumns
	created, err := scanUser(r.pool.QueryRow(ctx, q,
		u.Email,
		u.PasswordHash,
		u.FirstName,
		u.LastName,
		u.AvatarURL,
		u.EmailVerificationToken,
		u.EmailVerificationExpires,
		u.SubscriptionTier,
		u.MonthlyUsage,
		u.MonthlyLimit,
		u.IsActive,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user %s: %w", u.Email, err)
	}
	*u = *created
	return nil
}

func (r *userRepo) getOne(ctx context.Context, what, where string, args ...any) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user by %s: %w", what, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.getOne(ctx, "id", `id = $1`, id)
}

func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "email", `email = $1`, email)
}

func (r *userRepo) GetUserByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return r.getOne(ctx, "verification token",
		`email_verification_token = $1 AND email_verification_expires > $2`, token, now)
}

func (r *userRepo) GetUserByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return r.getOne(ctx, "reset token",
		`password_reset_token = $1 AND password_reset_expires > $2`, token, now)
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*model.User, error) {
	q := `
        UPDATE users
        SET first_name = COALESCE($2, first_name),
            last_name  = COALESCE($3, last_name),
            avatar_url = COALESCE($4, avatar_url),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, id, p.FirstName, p.LastName, p.AvatarURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update profile for user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) exec(ctx context.Context, what, id, q string, args ...any) error {
	if _, err := r.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("%s for user %s: %w", what, id, err)
	}
	return nil
}

func (r *userRepo) SetEmailVerificationToken(ctx context.Context, id, token string, expires time.Time) error {
	const q = `
        UPDATE users
        SET email_verification_token = $2, email_verification_expires = $3, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "set verification token", id, q, id, token, expires)
}

func (r *userRepo) MarkEmailVerified(ctx context.Context, id string) error {
	const q = `
        UPDATE users
        SET email_verified = TRUE, email_verification_token = NULL,
            email_verification_expires = NULL, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "mark email verified", id, q, id)
}

func (r *userRepo) SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time) error {
	const q = `
        UPDATE users
        SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "set reset token", id, q, id, token, expires)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const q = `
        UPDATE users
        SET password_hash = $2, password_reset_token = NULL,
            password_reset_expires = NULL, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "update password", id, q, id, passwordHash)
}

func (r *userRepo) SetRefreshToken(ctx context.Context, id string, token *string, expires *time.Time) error {
	const q = `
        UPDATE users
        SET refresh_token = $2, refresh_token_expires = $3, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "set refresh token", id, q, id, token, expires)
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update last login", id, q, id, at)
}

func (r *userRepo) IncrementUsage(ctx context.Context, id string) (int, error) {
	const q = `
        UPDATE users
        SET monthly_usage = monthly_usage + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING monthly_usage`
	var usage int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&usage); err != nil {
		return 0, fmt.Errorf("increment usage for user %s: %w", id, err)
	}
	return usage, nil
}

func (r *userRepo) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	const q = `UPDATE users SET monthly_usage = 0, updated_at = NOW() WHERE monthly_usage <> 0`
	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reset monthly usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *userRepo) Deactivate(ctx context.Context, id, anonymizedEmail string) error {
	const q = `
        UPDATE users
        SET is_active = FALSE, email = $2, refresh_token = NULL,
            refresh_token_expires = NULL, updated_at = NOW()
        WHERE id = $1`
	return r.exec(ctx, "deactivate", id, q, id, anonymizedEmail)
}

func (r *userRepo) DeleteUser(ctx context.Context, id string) error {
	return r.exec(ctx, "delete", id, `DELETE FROM users WHERE id = $1`, id)
}
