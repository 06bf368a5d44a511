package main

import (
	"context"
	"os/signal"
	"syscall"

	"morphflux/internal/database"
	"morphflux/internal/logger"
	"morphflux/internal/repository"
	"morphflux/internal/secrets"

	"github.com/joho/godotenv"
)

// usage-reset zeroes every account's monthly usage counter. It is meant to
// run once at the start of each billing period.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		l := logger.New()
		l.Warn().Msg("Warning: no .env file found")
	}
	logger := logger.New().With().Str("job", "usage-reset").Logger()

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := secrets.LoadConfig(ctx, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	pool, err := database.Open(ctx, cfg.DBConnectionString, cfg.IsDevelopment(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	reset, err := repository.NewUserRepo(pool).ResetMonthlyUsage(ctx)
	if err != nil {
		pool.Close()
		logger.Fatal().Err(err).Msg("Monthly usage reset failed")
	}
	logger.Info().Int64("users_reset", reset).Msg("Monthly usage reset complete")
}
