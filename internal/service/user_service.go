package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"morphflux/internal/model"
	"morphflux/internal/repository"
	"morphflux/internal/storage"
)

const exportRowLimit = 1000

type UsageSummary struct {
	MonthlyUsage      int                        `json:"monthly_usage"`
	MonthlyLimit      int                        `json:"monthly_limit"`
	UsagePercentage   int                        `json:"usage_percentage"`
	RemainingUsage    int                        `json:"remaining_usage"`
	SubscriptionTier  model.Tier                 `json:"subscription_tier"`
	ResetDate         time.Time                  `json:"reset_date"`
	UploadsThisPeriod int                        `json:"uploads_this_period"`
	Transformations   *model.TransformationStats `json:"transformations"`
}

type SubscriptionSummary struct {
	Tier                 model.Tier `json:"tier"`
	Status               string     `json:"status"`
	ExpiresAt            *time.Time `json:"expires_at"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	MonthlyLimit         int        `json:"monthly_limit"`
	CurrentUsage         int        `json:"current_usage"`
}

type DataExport struct {
	ExportDate      time.Time              `json:"export_date"`
	Profile         *model.User            `json:"profile"`
	Images          []model.Image          `json:"images"`
	Transformations []model.Transformation `json:"transformations"`
}

type UserService interface {
	Get(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, p repository.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, u *model.User, currentPassword, newPassword string) error
	Usage(ctx context.Context, u *model.User) (*UsageSummary, error)
	Activity(ctx context.Context, userID string, page, limit int) ([]model.Transformation, int, error)
	Subscription(u *model.User) *SubscriptionSummary
	// DeleteAccount deactivates and anonymizes the account, or removes it
	// with its stored objects when hard deletion is enabled.
	DeleteAccount(ctx context.Context, u *model.User, password string) error
	ExportData(ctx context.Context, u *model.User) (*DataExport, error)
}

type userService struct {
	users           repository.UserRepository
	images          repository.ImageRepository
	transformations repository.TransformationRepository
	usage           repository.UsageRepository
	store           storage.ObjectStore
	bcryptCost      int
	hardDelete      bool
	now             func() time.Time
	logger          zerolog.Logger
}

type UserServiceConfig struct {
	BcryptCost int
	HardDelete bool
}

func NewUserService(
	users repository.UserRepository,
	images repository.ImageRepository,
	transformations repository.TransformationRepository,
	usage repository.UsageRepository,
	store storage.ObjectStore,
	cfg UserServiceConfig,
	logger zerolog.Logger,
) UserService {
	return &userService{
		users:           users,
		images:          images,
		transformations: transformations,
		usage:           usage,
		store:           store,
		bcryptCost:      cfg.BcryptCost,
		hardDelete:      cfg.HardDelete,
		now:             time.Now,
		logger:          logger.With().Str("service", "UserService").Logger(),
	}
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *userService) UpdateProfile(ctx context.Context, id string, p repository.ProfileUpdate) (*model.User, error) {
	u, err := s.users.UpdateProfile(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	s.logger.Info().Str("user_id", id).Msg("User profile updated")
	return u, nil
}

func (s *userService) ChangePassword(ctx context.Context, u *model.User, currentPassword, newPassword string) error {
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)) != nil {
		return ErrIncorrectPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("Password changed")
	return nil
}

// periodStart is the first instant of the current calendar month in UTC,
// when cmd/usage-reset zeroes monthly usage.
func periodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *userService) Usage(ctx context.Context, u *model.User) (*UsageSummary, error) {
	now := s.now()
	start := periodStart(now)
	uploads, err := s.usage.CountUsageSince(ctx, u.ID, model.UsageActionUpload, start)
	if err != nil {
		return nil, err
	}
	stats, err := s.transformations.GetTransformationStats(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	resetDate := start.AddDate(0, 1, 0)
	if u.SubscriptionExpiresAt != nil {
		resetDate = *u.SubscriptionExpiresAt
	}
	return &UsageSummary{
		MonthlyUsage:      u.MonthlyUsage,
		MonthlyLimit:      u.MonthlyLimit,
		UsagePercentage:   u.UsagePercentage(),
		RemainingUsage:    u.RemainingUsage(),
		SubscriptionTier:  u.SubscriptionTier,
		ResetDate:         resetDate,
		UploadsThisPeriod: uploads,
		Transformations:   stats,
	}, nil
}

func (s *userService) Activity(ctx context.Context, userID string, page, limit int) ([]model.Transformation, int, error) {
	limit, offset := pageBounds(page, limit)
	items, err := s.transformations.ListTransformationsByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.transformations.CountTransformationsByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *userService) Subscription(u *model.User) *SubscriptionSummary {
	status := "inactive"
	if u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(s.now()) {
		status = "active"
	}
	return &SubscriptionSummary{
		Tier:                 u.SubscriptionTier,
		Status:               status,
		ExpiresAt:            u.SubscriptionExpiresAt,
		StripeCustomerID:     u.StripeCustomerID,
		StripeSubscriptionID: u.StripeSubscriptionID,
		MonthlyLimit:         u.MonthlyLimit,
		CurrentUsage:         u.MonthlyUsage,
	}
}

func (s *userService) DeleteAccount(ctx context.Context, u *model.User, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrIncorrectPassword
	}

	if !s.hardDelete {
		anonymized := fmt.Sprintf("deleted_%d_%s", s.now().UnixMilli(), u.Email)
		if err := s.users.Deactivate(ctx, u.ID, anonymized); err != nil {
			return err
		}
		s.logger.Info().Str("user_id", u.ID).Msg("Account deactivated")
		return nil
	}

	keys, err := s.images.ListStorageKeysByUserID(ctx, u.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMany(ctx, keys); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID).Int("objects", len(keys)).Msg("Failed to purge stored objects, deleting account anyway")
	}
	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Int("objects", len(keys)).Msg("Account deleted")
	return nil
}

func (s *userService) ExportData(ctx context.Context, u *model.User) (*DataExport, error) {
	images, err := s.images.ListImagesByUserID(ctx, u.ID, exportRowLimit, 0)
	if err != nil {
		return nil, err
	}
	transformations, err := s.transformations.ListTransformationsByUserID(ctx, u.ID, exportRowLimit, 0)
	if err != nil {
		return nil, err
	}
	return &DataExport{
		ExportDate:      s.now().UTC(),
		Profile:         u,
		Images:          images,
		Transformations: transformations,
	}, nil
}
