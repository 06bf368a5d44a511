package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"morphflux/internal/mailer"
	"morphflux/internal/model"
	"morphflux/internal/ratelimit"
	"morphflux/internal/repository"
	"morphflux/internal/token"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
)

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthResult struct {
	User   *model.User
	Tokens AuthTokens
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	// Refresh rotates both tokens if the presented refresh token is the one
	// stored for the user and has not expired.
	Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error)
	Logout(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, verificationToken string) error
	ResendVerification(ctx context.Context, u *model.User) error
	// ForgotPassword succeeds silently for unknown emails.
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
}

type authService struct {
	users      repository.UserRepository
	tokens     *token.Service
	mail       mailer.Mailer
	attempts   ratelimit.Limiter
	bcryptCost int
	now        func() time.Time
	logger     zerolog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *token.Service,
	mail mailer.Mailer,
	attempts ratelimit.Limiter,
	bcryptCost int,
	logger zerolog.Logger,
) AuthService {
	return &authService{
		users:      users,
		tokens:     tokens,
		mail:       mail,
		attempts:   attempts,
		bcryptCost: bcryptCost,
		now:        time.Now,
		logger:     logger.With().Str("service", "AuthService").Logger(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verifyToken := uuid.NewString()
	verifyExpires := s.now().Add(verificationTokenTTL)
	u := &model.User{
		Email:                    email,
		PasswordHash:             string(hash),
		FirstName:                strings.TrimSpace(in.FirstName),
		LastName:                 strings.TrimSpace(in.LastName),
		EmailVerificationToken:   &verifyToken,
		EmailVerificationExpires: &verifyExpires,
		SubscriptionTier:         model.TierFree,
		MonthlyLimit:             model.TierFree.MonthlyLimit(),
		IsActive:                 true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("User registered")

	if err := s.mail.SendEmailVerification(ctx, u.Email, u.FirstName, verifyToken); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID).Msg("Failed to send verification email")
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Tokens: *tokens}, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if err := s.throttle(ctx, "login:"+email); err != nil {
		return nil, err
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Tokens: *tokens}, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	claims, err := s.tokens.Verify(refreshToken, token.RefreshAudience)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrInvalidRefreshToken
	}

	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, ErrInvalidRefreshToken
	}
	if u.RefreshToken == nil || *u.RefreshToken != refreshToken {
		return nil, ErrInvalidRefreshToken
	}
	if u.RefreshTokenExpires != nil && u.RefreshTokenExpires.Before(s.now()) {
		return nil, ErrRefreshTokenExpired
	}
	return s.issueTokens(ctx, u)
}

func (s *authService) Logout(ctx context.Context, userID string) error {
	return s.users.SetRefreshToken(ctx, userID, nil, nil)
}

// issueTokens mints an access/refresh pair and stores the refresh token,
// revoking whichever one was stored before.
func (s *authService) issueTokens(ctx context.Context, u *model.User) (*AuthTokens, error) {
	access, err := s.tokens.IssueAccessToken(token.AccessPayload{
		UserID:           u.ID,
		Email:            u.Email,
		SubscriptionTier: string(u.SubscriptionTier),
		EmailVerified:    u.EmailVerified,
	})
	if err != nil {
		return nil, err
	}
	refresh, expires, err := s.tokens.IssueRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, &refresh, &expires); err != nil {
		return nil, err
	}
	return &AuthTokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *authService) VerifyEmail(ctx context.Context, verificationToken string) error {
	u, err := s.users.GetUserByVerificationToken(ctx, verificationToken, s.now())
	if err != nil {
		return err
	}
	if u == nil {
		return ErrInvalidVerificationToken
	}
	if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("Email verified")

	if err := s.mail.SendWelcome(ctx, u.Email, u.FirstName); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID).Msg("Failed to send welcome email")
	}
	return nil
}

func (s *authService) ResendVerification(ctx context.Context, u *model.User) error {
	if u.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	verifyToken := uuid.NewString()
	if err := s.users.SetEmailVerificationToken(ctx, u.ID, verifyToken, s.now().Add(verificationTokenTTL)); err != nil {
		return err
	}
	return s.mail.SendEmailVerification(ctx, u.Email, u.FirstName, verifyToken)
}

func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := s.throttle(ctx, "forgot:"+email); err != nil {
		return err
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		s.logger.Debug().Msg("Password reset requested for unknown email")
		return nil
	}

	resetToken := uuid.NewString()
	if err := s.users.SetPasswordResetToken(ctx, u.ID, resetToken, s.now().Add(resetTokenTTL)); err != nil {
		return err
	}
	return s.mail.SendPasswordReset(ctx, u.Email, u.FirstName, resetToken)
}

func (s *authService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	u, err := s.users.GetUserByResetToken(ctx, resetToken, s.now())
	if err != nil {
		return err
	}
	if u == nil {
		return ErrInvalidResetToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, nil, nil); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("Password reset")
	return nil
}

// throttle fails open when the limiter backend is unavailable.
func (s *authService) throttle(ctx context.Context, key string) error {
	if s.attempts == nil {
		return nil
	}
	ok, retry, err := s.attempts.Allow(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Attempt limiter unavailable")
		return nil
	}
	if !ok {
		return &TooManyAttemptsError{RetryAfter: retry}
	}
	return nil
}
