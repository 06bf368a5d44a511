package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"morphflux/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type setupConfig struct {
	ProjectID    string `envconfig:"GCP_PROJECT_ID" required:"true"`
	EmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST" required:"true"`
	JobsTopic    string `envconfig:"PUBSUB_TRANSFORMATION_TOPIC" default:"transformation-jobs"`
	StatusTopic  string `envconfig:"PUBSUB_STATUS_TOPIC" default:"transformation-status"`
}

// topology is the set of topics and subscriptions the API and image worker
// exchange messages over.
type topology struct {
	jobs, jobsDLQ, status string
	apiURL                string
}

func main() {
	// host.docker.internal lets the emulator's push subscriptions reach the host.
	apiURL := flag.String("api-url", "http://host.docker.internal:8080/api/v1", "Base URL push subscriptions deliver to")
	reset := flag.Bool("reset", false, "Delete every topic and subscription in the emulator first")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}
	logger := logger.New().With().Str("tool", "setup-pubsub-local").Logger()

	var cfg setupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID,
		option.WithEndpoint(cfg.EmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Pub/Sub client")
		}
	}()

	if *reset {
		resetEmulator(ctx, client, logger)
	}
	ensureTopology(ctx, client, logger, topology{
		jobs:    cfg.JobsTopic,
		jobsDLQ: cfg.JobsTopic + "-dlq",
		status:  cfg.StatusTopic,
		apiURL:  strings.TrimRight(*apiURL, "/"),
	})
	logger.Info().Msg("Pub/Sub setup for local environment complete")
}

// resetEmulator deletes all subscriptions, then all topics. Only ever point
// this at the emulator.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list subscriptions")
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}
	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list topics")
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	logger.Info().Msg("Emulator reset")
}

func ensureTopology(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, t topology) {
	retention := 7 * 24 * time.Hour
	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}

	jobsDLQ := ensureTopic(ctx, client, logger, t.jobsDLQ, retention)
	jobs := ensureTopic(ctx, client, logger, t.jobs, retention)
	status := ensureTopic(ctx, client, logger, t.status, retention)

	// The image worker pulls jobs; exhausted jobs go to the DLQ topic.
	ensureSubscription(ctx, client, logger, t.jobs+"-sub", pubsub.SubscriptionConfig{
		Topic:       jobs,
		AckDeadline: 180 * time.Second,
		RetryPolicy: retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     jobsDLQ.String(),
			MaxDeliveryAttempts: 5,
		},
	})
	ensureSubscription(ctx, client, logger, t.jobsDLQ+"-sub", pubsub.SubscriptionConfig{
		Topic:       jobsDLQ,
		PushConfig:  pubsub.PushConfig{Endpoint: t.apiURL + "/internal/transformations/dead-letter"},
		AckDeadline: 60 * time.Second,
		RetryPolicy: retry,
	})
	ensureSubscription(ctx, client, logger, t.status+"-sub", pubsub.SubscriptionConfig{
		Topic:       status,
		PushConfig:  pubsub.PushConfig{Endpoint: t.apiURL + "/internal/transformations/status"},
		AckDeadline: 60 * time.Second,
		RetryPolicy: retry,
	})
}

func ensureTopic(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, id string, retention time.Duration) *pubsub.Topic {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("topic", id).Msg("Failed to check topic")
	}
	if exists {
		logger.Info().Str("topic", id).Msg("Topic already exists")
		return topic
	}
	created, err := client.CreateTopicWithConfig(ctx, id, &pubsub.TopicConfig{RetentionDuration: retention})
	if err != nil {
		logger.Fatal().Err(err).Str("topic", id).Msg("Failed to create topic")
	}
	logger.Info().Str("topic", id).Msg("Created topic")
	return created
}

// ensureSubscription creates the subscription, or brings an existing one's
// push endpoint, ack deadline and retry policy in line with cfg.
func ensureSubscription(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, id string, cfg pubsub.SubscriptionConfig) {
	log := logger.With().Str("subscription", id).Logger()
	sub := client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check subscription")
	}
	if !exists {
		if _, err := client.CreateSubscription(ctx, id, cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to create subscription")
		}
		log.Info().Str("endpoint", cfg.PushConfig.Endpoint).Msg("Created subscription")
		return
	}

	current, err := sub.Config(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read subscription config")
	}
	if current.PushConfig.Endpoint == cfg.PushConfig.Endpoint &&
		current.AckDeadline == cfg.AckDeadline &&
		sameRetry(current.RetryPolicy, cfg.RetryPolicy) {
		log.Info().Msg("Subscription is up to date")
		return
	}
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		PushConfig:  &cfg.PushConfig,
		AckDeadline: cfg.AckDeadline,
		RetryPolicy: cfg.RetryPolicy,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to update subscription")
	}
	log.Info().Msg("Updated subscription")
}

func sameRetry(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
