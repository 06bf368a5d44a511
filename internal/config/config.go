package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	MailProviderSMTP     = "smtp"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	AutoMigrate        bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	// Auth settings
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	JWTSecretRef    string        `envconfig:"JWT_SECRET_REF"`
	AccessTokenTTL  time.Duration `envconfig:"JWT_EXPIRES_IN" default:"168h"`
	RefreshTokenTTL time.Duration `envconfig:"JWT_REFRESH_EXPIRES_IN" default:"720h"`
	BcryptCost      int           `envconfig:"BCRYPT_ROUNDS" default:"12"`

	// Object storage settings
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	S3Bucket         string `envconfig:"S3_BUCKET_NAME"`
	S3AccessKey      string `envconfig:"AWS_ACCESS_KEY_ID"`
	S3SecretKey      string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	S3UsePathStyle   bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	CloudFrontDomain string `envconfig:"CLOUDFRONT_DOMAIN"`

	// Upload settings
	MaxFileSize      int64         `envconfig:"MAX_FILE_SIZE" default:"52428800"`
	AllowedFileTypes []string      `envconfig:"ALLOWED_FILE_TYPES" default:"image/jpeg,image/png,image/webp,image/tiff"`
	UploadURLTTL     time.Duration `envconfig:"UPLOAD_URL_TTL" default:"5m"`
	DownloadURLTTL   time.Duration `envconfig:"DOWNLOAD_URL_TTL" default:"15m"`

	// Mail settings
	MailProvider      string `envconfig:"MAIL_PROVIDER" default:"log"`
	FromEmail         string `envconfig:"FROM_EMAIL" default:"noreply@morphflux.studio"`
	FromName          string `envconfig:"FROM_NAME" default:"MorphFlux Studio"`
	FrontendURL       string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	SMTPHost          string `envconfig:"SMTP_HOST"`
	SMTPPort          int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser          string `envconfig:"SMTP_USER"`
	SMTPPassword      string `envconfig:"SMTP_PASS"`
	SMTPPasswordRef   string `envconfig:"SMTP_PASS_REF"`
	SendGridAPIKey    string `envconfig:"SENDGRID_API_KEY"`
	SendGridAPIKeyRef string `envconfig:"SENDGRID_API_KEY_REF"`

	// Throttling settings
	RedisURL          string        `envconfig:"REDIS_URL"`
	AuthAttemptLimit  int           `envconfig:"AUTH_ATTEMPT_LIMIT" default:"10"`
	AuthAttemptWindow time.Duration `envconfig:"AUTH_ATTEMPT_WINDOW" default:"15m"`
	RateLimitRPS      float64       `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst    int           `envconfig:"RATE_LIMIT_BURST" default:"30"`

	// Google Cloud settings
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubTransformationTopic     string `envconfig:"PUBSUB_TRANSFORMATION_TOPIC"`
	PubSubPushAudience            string `envconfig:"PUBSUB_PUSH_AUDIENCE"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`

	// Account settings
	AccountHardDelete bool `envconfig:"ACCOUNT_HARD_DELETE" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the API server needs. It runs after secret
// references have been resolved.
func (c *Config) Validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET (or JWT_SECRET_REF) must be set")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_ROUNDS must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	switch c.MailProvider {
	case MailProviderSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_PROVIDER=smtp")
		}
	case MailProviderSendGrid:
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid")
		}
	case MailProviderLog:
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}
