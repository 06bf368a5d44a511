// Package secrets resolves secret references in the configuration.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"

	"morphflux/internal/config"
)

// Resolver returns the current value of a named secret.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type secretManagerResolver struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerResolver(ctx context.Context, projectID string) (Resolver, func() error, error) {
	if projectID == "" {
		return nil, nil, fmt.Errorf("GCP_PROJECT_ID is required to resolve secret references")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerResolver{client: client, projectID: projectID}, client.Close, nil
}

// Resolve accepts a short secret id or a full resource name.
func (r *secretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	result, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName(r.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

func resourceName(projectID, name string) string {
	if strings.HasPrefix(name, "projects/") {
		if strings.Contains(name, "/versions/") {
			return name
		}
		return name + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}

// HasRefs reports whether any secret reference is configured.
func HasRefs(cfg *config.Config) bool {
	return cfg.JWTSecretRef != "" || cfg.SMTPPasswordRef != "" || cfg.SendGridAPIKeyRef != ""
}

// Apply overwrites config values whose *_REF counterpart is set.
func Apply(ctx context.Context, cfg *config.Config, r Resolver, logger zerolog.Logger) error {
	refs := []struct {
		env    string
		ref    string
		target *string
	}{
		{"JWT_SECRET", cfg.JWTSecretRef, &cfg.JWTSecret},
		{"SMTP_PASS", cfg.SMTPPasswordRef, &cfg.SMTPPassword},
		{"SENDGRID_API_KEY", cfg.SendGridAPIKeyRef, &cfg.SendGridAPIKey},
	}
	for _, ref := range refs {
		if ref.ref == "" {
			continue
		}
		value, err := r.Resolve(ctx, ref.ref)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", ref.env, err)
		}
		*ref.target = strings.TrimSpace(value)
		logger.Info().Str("setting", ref.env).Msg("Loaded value from Secret Manager")
	}
	return nil
}

// LoadConfig reads the environment and resolves secret references through
// Secret Manager when any are set. A non-nil check validates the result;
// jobs that only touch the database pass nil.
func LoadConfig(ctx context.Context, logger zerolog.Logger, check func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if HasRefs(cfg) {
		r, closeFn, err := NewSecretManagerResolver(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		if err := Apply(ctx, cfg, r, logger); err != nil {
			return nil, err
		}
	}
	if check != nil {
		if err := check(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}
