package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// GatewayConfig is built once at startup and handed to the gateway client and
// the reconciliation engine.
type GatewayConfig struct {
	APIURL     string        `env:"MONEYFUSION_API_URL"`
	CheckURL   string        `env:"MONEYFUSION_CHECK_URL"`
	ReturnURL  string        `env:"MONEYFUSION_RETURN_URL"`
	WebhookURL string        `env:"MONEYFUSION_WEBHOOK_URL"`
	Timeout    time.Duration `env:"MONEYFUSION_TIMEOUT"`
	VerifyTLS  bool          `env:"MONEYFUSION_VERIFY_TLS"`

	RetryEnabled bool          `env:"MONEYFUSION_RETRY_ENABLED"`
	RetryTimes   int           `env:"MONEYFUSION_RETRY_TIMES"`
	RetrySleep   time.Duration `env:"MONEYFUSION_RETRY_SLEEP"`

	// RateLimit caps outbound calls per second; zero disables the limiter.
	RateLimit float64 `env:"MONEYFUSION_RATE_LIMIT"`
}

type Config struct {
	Gateway GatewayConfig

	DBConfig struct {
		Host     string `env:"PAYMENTS_DB_HOST"`
		Port     int    `env:"PAYMENTS_DB_PORT"`
		User     string `env:"PAYMENTS_DB_USER"`
		Password string `env:"PAYMENTS_DB_PASSWORD"`
		Name     string `env:"PAYMENTS_DB_NAME"`
		SSLMode  string `env:"PAYMENTS_DB_SSLMODE"`
	}
	StoreDriver    string `env:"PAYMENTS_STORE"`
	MigrationsPath string `env:"MIGRATIONS_PATH"`

	HTTPPort    int      `env:"PAYMENTS_HTTP_PORT"`
	CORSOrigins []string `env:"PAYMENTS_CORS_ORIGINS"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	RedisTTL      time.Duration `env:"REDIS_TTL"`

	KafkaBrokerURL          string `env:"KAFKA_BROKER_URL"`
	KafkaPaymentStatusTopic string `env:"KAFKA_PAYMENT_STATUS_TOPIC"`
	KafkaStatusCheckTopic   string `env:"KAFKA_STATUS_CHECK_TOPIC"`
	KafkaConsumerGroup      string `env:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`
}

// LoadConfig reads the environment, after merging a local .env file when one
// exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}

	cfg.Gateway.APIURL = getEnvOrDefault("MONEYFUSION_API_URL", "https://api.moneyfusion.net/api/create-payment")
	cfg.Gateway.CheckURL = getEnvOrDefault("MONEYFUSION_CHECK_URL", "")
	cfg.Gateway.ReturnURL = getEnvOrDefault("MONEYFUSION_RETURN_URL", "")
	cfg.Gateway.WebhookURL = getEnvOrDefault("MONEYFUSION_WEBHOOK_URL", "")
	cfg.Gateway.Timeout = getEnvAsSeconds("MONEYFUSION_TIMEOUT", 30*time.Second)
	cfg.Gateway.VerifyTLS = getEnvAsBool("MONEYFUSION_VERIFY_TLS", true)
	cfg.Gateway.RetryEnabled = getEnvAsBool("MONEYFUSION_RETRY_ENABLED", true)
	cfg.Gateway.RetryTimes = getEnvAsInt("MONEYFUSION_RETRY_TIMES", 3)
	cfg.Gateway.RetrySleep = getEnvAsMillis("MONEYFUSION_RETRY_SLEEP", 100*time.Millisecond)
	cfg.Gateway.RateLimit = getEnvAsFloat("MONEYFUSION_RATE_LIMIT", 0)

	cfg.DBConfig.Host = getEnvOrDefault("PAYMENTS_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("PAYMENTS_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("PAYMENTS_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("PAYMENTS_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("PAYMENTS_DB_NAME", "payments_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("PAYMENTS_DB_SSLMODE", "disable")
	cfg.StoreDriver = getEnvOrDefault("PAYMENTS_STORE", StoreDriverPostgres)
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file:///app/migrations")

	cfg.HTTPPort = getEnvAsInt("PAYMENTS_HTTP_PORT", 8082)
	cfg.CORSOrigins = getEnvAsList("PAYMENTS_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.RedisTTL = getEnvAsDuration("REDIS_TTL", 5*time.Minute)

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "")
	cfg.KafkaPaymentStatusTopic = getEnvOrDefault("KAFKA_PAYMENT_STATUS_TOPIC", "moneyfusion_payment_status")
	cfg.KafkaStatusCheckTopic = getEnvOrDefault("KAFKA_STATUS_CHECK_TOPIC", "")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "moneyfusion-service-group")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.APIURL == "" {
		return errors.New("MONEYFUSION_API_URL is required")
	}
	if c.Gateway.Timeout <= 0 {
		return errors.New("MONEYFUSION_TIMEOUT must be positive")
	}
	if c.Gateway.RetryTimes < 0 {
		return errors.New("MONEYFUSION_RETRY_TIMES cannot be negative")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported PAYMENTS_STORE %q", c.StoreDriver)
	}
	return nil
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) KafkaEnabled() bool {
	return c.KafkaBrokerURL != ""
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnvOrDefault(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds accepts a bare number of seconds, as the gateway's own
// tooling documents it, or a Go duration string.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, "")
	if n, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}

// getEnvAsMillis is getEnvAsSeconds for millisecond values.
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, "")
	if n, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return getEnvAsDuration(key, defaultValue)
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
