package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"morphflux/internal/config"
	"morphflux/internal/database"
	"morphflux/internal/mailer"
	"morphflux/internal/middleware"
	"morphflux/internal/pubsub"
	"morphflux/internal/ratelimit"
	"morphflux/internal/repository"
	"morphflux/internal/service"
	"morphflux/internal/storage"
	"morphflux/internal/token"
)

// Build connects to Postgres, S3, Redis and Pub/Sub as configured and
// returns the API handler plus a cleanup func that releases them.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// 1. Database
	pool, err := database.Open(ctx, cfg.DBConnectionString, cfg.IsDevelopment(), logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pool.Close)
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			return fail(err)
		}
	}

	// 2. Repositories
	userRepo := repository.NewUserRepo(pool)
	imageRepo := repository.NewImageRepo(pool)
	transformationRepo := repository.NewTransformationRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)
	dlqRepo := repository.NewDLQRepository(pool)

	// 3. Object storage
	s3Client, err := storage.NewS3Client(ctx, storage.S3Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return fail(err)
	}
	store := storage.NewS3Store(s3Client, cfg.S3Bucket, logger)

	// 4. Mail
	transport, err := mailer.NewTransport(cfg, logger)
	if err != nil {
		return fail(err)
	}
	mail := mailer.New(transport, cfg.FromEmail, cfg.FromName, cfg.FrontendURL, logger)

	// 5. Attempt limiting
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	attempts := ratelimit.New(redisClient, cfg.AuthAttemptLimit, cfg.AuthAttemptWindow, logger)

	// 6. Job dispatch
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" && cfg.PubSubTransformationTopic != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("failed to create Pub/Sub publisher: %w", err))
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	} else {
		logger.Warn().Msg("Pub/Sub not configured, transformation jobs will not be dispatched")
	}

	// 7. Services
	tokens := token.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	transformationService := service.NewTransformationService(
		transformationRepo, imageRepo, userRepo, usageRepo, publisher, cfg.PubSubTransformationTopic, logger)
	svc := Services{
		Auth: service.NewAuthService(userRepo, tokens, mail, attempts, cfg.BcryptCost, logger),
		Users: service.NewUserService(userRepo, imageRepo, transformationRepo, usageRepo, store, service.UserServiceConfig{
			BcryptCost: cfg.BcryptCost,
			HardDelete: cfg.AccountHardDelete,
		}, logger),
		Images: service.NewImageService(imageRepo, userRepo, usageRepo, store, service.ImageServiceConfig{
			MaxFileSize:    cfg.MaxFileSize,
			AllowedTypes:   cfg.AllowedFileTypes,
			CDNDomain:      cfg.CloudFrontDomain,
			UploadURLTTL:   cfg.UploadURLTTL,
			DownloadURLTTL: cfg.DownloadURLTTL,
		}, logger),
		Transformations: transformationService,
		DLQ:             service.NewDLQService(dlqRepo, transformationService, logger),
	}

	origins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		origins = []string{"*"}
	}

	h := New(svc, Options{
		Tokens:     tokens,
		UserLookup: userRepo,
		IPLimiter:  ratelimit.NewIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		PubSubAuth: middleware.PubSubAuthConfig{
			SkipAuth:      cfg.PubSubEmulatorHost != "",
			Audience:      cfg.PubSubPushAudience,
			ExpectedEmail: cfg.PubSubPushServiceAccountEmail,
		},
		AllowedOrigins: origins,
		Health:         pool.Ping,
	}, logger)
	return h, cleanup, nil
}
