package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Payment processor configuration
	Payment PaymentConfig

	// Channel manager (rates, availability, reservations)
	ChannelManager ChannelManagerConfig

	// Booking pipeline policy
	Booking BookingConfig

	// Operator alerting
	Alert AlertConfig

	// Redis (async reconcile mode only)
	Redis RedisConfig

	// Background worker
	Worker WorkerConfig

	// Operator API authentication
	Operator OperatorConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// IsProduction reports whether the service runs in the production environment
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver             string // "pgx" or "postgres" (lib/pq)
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// PaymentConfig holds payment processor configuration
type PaymentConfig struct {
	SecretKey             string // processor secret key (SECRET - never expose to client)
	WebhookSecret         string // webhook signing secret
	APIBaseURL            string
	Currency              string
	AllowUnsignedWebhooks bool // non-production escape hatch, logged loudly when used
	SignatureTolerance    time.Duration
}

// ChannelManagerConfig holds the channel-manager API configuration
type ChannelManagerConfig struct {
	BaseURL          string
	APIKey           string
	ClientID         string
	Timeout          time.Duration
	BreakerThreshold int64
}

// Reconcile modes
const (
	ReconcileModeSync  = "sync"
	ReconcileModeAsync = "async"
)

// BookingConfig holds booking pricing and reconciliation policy
type BookingConfig struct {
	FallbackNightlyRate  float64
	RetryAttempts        int
	RetryDelay           time.Duration
	RetryBackoff         string // "fixed" or "exponential"
	AttemptTimeout       time.Duration
	ReconcileTimeout     time.Duration
	ReconcileMode        string // "sync" or "async"
	StaleProcessingAfter time.Duration
	SweepSchedule        string
}

// Alert sinks
const (
	AlertSinkLog     = "log"
	AlertSinkWebhook = "webhook"
	AlertSinkAMQP    = "amqp"
)

// AlertConfig holds operator alert sink configuration
type AlertConfig struct {
	Sink       string
	WebhookURL string
	AMQPURL    string
	Queue      string
}

// RedisConfig holds Redis connection settings for the task queue
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WorkerConfig holds background worker settings
type WorkerConfig struct {
	Concurrency int
	MonitorPort string
}

// OperatorConfig holds operator API token settings
type OperatorConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver:             getEnv("DATABASE_DRIVER", "pgx"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Payment: PaymentConfig{
			SecretKey:             getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:         getEnv("STRIPE_WEBHOOK_SECRET", ""),
			APIBaseURL:            getEnv("STRIPE_API_BASE_URL", "https://api.stripe.com"),
			Currency:              strings.ToLower(getEnv("PAYMENT_CURRENCY", "chf")),
			AllowUnsignedWebhooks: getEnvAsBool("ALLOW_UNSIGNED_WEBHOOKS", false),
			SignatureTolerance:    getEnvAsDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		ChannelManager: ChannelManagerConfig{
			BaseURL:          getEnv("CHANNEL_MANAGER_BASE_URL", "https://connect.uplisting.io"),
			APIKey:           getEnv("CHANNEL_MANAGER_API_KEY", ""),
			ClientID:         getEnv("CHANNEL_MANAGER_CLIENT_ID", ""),
			Timeout:          getEnvAsDuration("CHANNEL_MANAGER_TIMEOUT", 3*time.Second),
			BreakerThreshold: int64(getEnvAsInt("CHANNEL_MANAGER_BREAKER_THRESHOLD", 5)),
		},
		Booking: BookingConfig{
			FallbackNightlyRate:  getEnvAsFloat("FALLBACK_NIGHTLY_RATE", 250),
			RetryAttempts:        getEnvAsInt("RESERVATION_RETRY_ATTEMPTS", 2),
			RetryDelay:           getEnvAsDuration("RESERVATION_RETRY_DELAY", 1*time.Second),
			RetryBackoff:         getEnv("RESERVATION_RETRY_BACKOFF", "fixed"),
			AttemptTimeout:       getEnvAsDuration("RESERVATION_ATTEMPT_TIMEOUT", 3*time.Second),
			ReconcileTimeout:     getEnvAsDuration("RECONCILE_TIMEOUT", 10*time.Second),
			ReconcileMode:        getEnv("RECONCILE_MODE", ReconcileModeSync),
			StaleProcessingAfter: getEnvAsDuration("STALE_PROCESSING_AFTER", 15*time.Minute),
			SweepSchedule:        getEnv("SWEEP_SCHEDULE", "0 */5 * * * *"),
		},
		Alert: AlertConfig{
			Sink:       getEnv("ALERT_SINK", AlertSinkLog),
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			AMQPURL:    getEnv("ALERT_AMQP_URL", ""),
			Queue:      getEnv("ALERT_QUEUE", "operator_alerts"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 10),
			MonitorPort: getEnv("WORKER_MONITOR_PORT", "8081"),
		},
		Operator: OperatorConfig{
			JWTSecret:   getEnv("OPERATOR_JWT_SECRET", ""),
			TokenExpiry: getEnvAsDuration("OPERATOR_TOKEN_EXPIRY", 12*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'pgx' or 'postgres')", c.Database.Driver)
	}

	if c.Payment.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	// Webhooks fail closed in production
	if c.Server.IsProduction() {
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.Payment.AllowUnsignedWebhooks {
			return fmt.Errorf("ALLOW_UNSIGNED_WEBHOOKS cannot be enabled in production")
		}
	}

	if c.Booking.FallbackNightlyRate <= 0 {
		return fmt.Errorf("FALLBACK_NIGHTLY_RATE must be positive")
	}

	if c.Booking.RetryAttempts < 1 {
		return fmt.Errorf("RESERVATION_RETRY_ATTEMPTS must be at least 1")
	}

	switch c.Booking.RetryBackoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("invalid RESERVATION_RETRY_BACKOFF: %s (must be 'fixed' or 'exponential')", c.Booking.RetryBackoff)
	}

	if c.Booking.AttemptTimeout <= 0 {
		return fmt.Errorf("RESERVATION_ATTEMPT_TIMEOUT must be positive")
	}
	if budget := c.Booking.ReservationBudget(); budget > c.Booking.ReconcileTimeout {
		return fmt.Errorf("reservation retries need up to %s but RECONCILE_TIMEOUT is %s", budget, c.Booking.ReconcileTimeout)
	}

	switch c.Booking.ReconcileMode {
	case ReconcileModeSync:
	case ReconcileModeAsync:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for async reconcile mode")
		}
	default:
		return fmt.Errorf("invalid RECONCILE_MODE: %s (must be 'sync' or 'async')", c.Booking.ReconcileMode)
	}

	switch c.Alert.Sink {
	case AlertSinkLog:
	case AlertSinkWebhook:
		if c.Alert.WebhookURL == "" {
			return fmt.Errorf("ALERT_WEBHOOK_URL is required for webhook alert sink")
		}
	case AlertSinkAMQP:
		if c.Alert.AMQPURL == "" {
			return fmt.Errorf("ALERT_AMQP_URL is required for amqp alert sink")
		}
	default:
		return fmt.Errorf("invalid ALERT_SINK: %s (must be 'log', 'webhook' or 'amqp')", c.Alert.Sink)
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// ReservationBudget is the worst-case time spent creating one reservation: every
// attempt running to its timeout plus the backoff delays between attempts
func (b BookingConfig) ReservationBudget() time.Duration {
	budget := time.Duration(b.RetryAttempts) * b.AttemptTimeout
	delay := b.RetryDelay
	for i := 1; i < b.RetryAttempts; i++ {
		budget += delay
		if b.RetryBackoff == "exponential" && delay < 8*b.RetryDelay {
			delay *= 2
		}
	}
	return budget
}
