package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort           string
	ServiceApiPort    string
	CorsAllowedOrigin string

	// Payments (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCurrency     string
	PaymentTimeout      time.Duration
	PaymentMaxRetries   int
	MaxPaymentFailures  int

	// Expiration sweep
	SweepInterval         time.Duration
	SweepRetireAfter      time.Duration
	SweepDistributedLock  bool
	SweepLockTTL          time.Duration
	SweepStartImmediately bool

	// Notifications
	SmtpHost               string
	SmtpPort               int
	SmtpUsername           string
	SmtpPassword           string
	SmtpFromAddress        string
	NotificationTimeout    time.Duration
	NotificationMaxRetries int
	KafkaBrokers           []string
	KafkaEventsTopic       string

	// AWS S3 (archive of retired requests)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string

	// App Defaults
	AppName     string
	AppBaseURL  string
	DefaultPage int
	MaxPage     int

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getSeconds := func(key, defaultValue string) (time.Duration, error) {
		n, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return time.Duration(n) * time.Second, nil
	}

	getInt := func(key, defaultValue string) (int, error) {
		n, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}

	getBool := func(key, defaultValue string) (bool, error) {
		b, err := strconv.ParseBool(getEnv(key, defaultValue))
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return b, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "referral")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowedOrigin = getEnv("CORS_ALLOWED_ORIGIN", "")

	cfg.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", "")
	cfg.PaymentCurrency = strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd"))

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@referral.example.com")
	cfg.KafkaEventsTopic = getEnv("KAFKA_EVENTS_TOPIC", "referral.domain-events")
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "us-east-1")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")

	cfg.AppName = getEnv("APP_NAME", "Referral")
	cfg.AppBaseURL = getEnv("APP_BASE_URL", "http://localhost:3000")

	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}
	if cfg.JwtTTL, err = getSeconds("JWT_TTL_SECONDS", "3600"); err != nil {
		return nil, err
	}
	if cfg.SmtpPort, err = getInt("SMTP_PORT", "587"); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getSeconds("PAYMENT_TIMEOUT_SECONDS", "15"); err != nil {
		return nil, err
	}
	if cfg.PaymentMaxRetries, err = getInt("PAYMENT_MAX_RETRIES", "2"); err != nil {
		return nil, err
	}
	if cfg.MaxPaymentFailures, err = getInt("MAX_PAYMENT_FAILURES", "5"); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getSeconds("SWEEP_INTERVAL_SECONDS", "300"); err != nil {
		return nil, err
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS: must be positive")
	}
	retireDays, err := getInt("SWEEP_RETIRE_AFTER_DAYS", "90")
	if err != nil {
		return nil, err
	}
	cfg.SweepRetireAfter = time.Duration(retireDays) * 24 * time.Hour
	if cfg.SweepDistributedLock, err = getBool("SWEEP_DISTRIBUTED_LOCK", "false"); err != nil {
		return nil, err
	}
	if cfg.SweepLockTTL, err = getSeconds("SWEEP_LOCK_TTL_SECONDS", "240"); err != nil {
		return nil, err
	}
	if cfg.SweepStartImmediately, err = getBool("SWEEP_START_IMMEDIATELY", "true"); err != nil {
		return nil, err
	}
	if cfg.NotificationTimeout, err = getSeconds("NOTIFICATION_TIMEOUT_SECONDS", "15"); err != nil {
		return nil, err
	}
	if cfg.NotificationMaxRetries, err = getInt("NOTIFICATION_MAX_RETRIES", "3"); err != nil {
		return nil, err
	}
	if cfg.DefaultPage, err = getInt("DEFAULT_PAGE_SIZE", "20"); err != nil {
		return nil, err
	}
	if cfg.MaxPage, err = getInt("MAX_PAGE_SIZE", "100"); err != nil {
		return nil, err
	}

	// Rate Limiting
	if cfg.RateLimitBucketSize, err = getInt("RATE_LIMIT_BUCKET_SIZE", "20"); err != nil {
		return nil, err
	}
	if cfg.RateLimitRefillRate, err = getInt("RATE_LIMIT_REFILL_RATE", "10"); err != nil {
		return nil, err
	}

	return cfg, nil
}
