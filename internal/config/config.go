// Package config provides configuration loading and management for OpsAssist.
// It supports loading configuration from YAML files with .env and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Classifier providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
)

// envPrefix is prepended to every environment override.
const envPrefix = "OPSASSIST_"

// Config represents the complete application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Detection  DetectionConfig  `yaml:"detection"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	NATS       NATSConfig       `yaml:"nats"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DetectionConfig holds the incident detection rule settings.
type DetectionConfig struct {
	// WindowSeconds is the sliding window W in which ERROR events are counted.
	WindowSeconds int `yaml:"window_seconds"`

	// Threshold is the minimum number T of unlinked ERROR events that opens an incident.
	Threshold int `yaml:"threshold"`

	// MaxAttempts bounds how often a conflicting grouping step is retried.
	MaxAttempts int `yaml:"max_attempts"`

	// LockTimeout bounds the wait for the per-service lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Window returns the detection window as a duration.
func (c *DetectionConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ClassifierConfig holds incident classification settings.
type ClassifierConfig struct {
	// Provider is "heuristic" or "anthropic". The heuristic is always the fallback.
	Provider string `yaml:"provider"`

	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`

	// TimeoutSeconds bounds a single classification call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Workers is the number of concurrent classification workers.
	Workers int `yaml:"workers"`

	// MaxContextEvents caps the events sent to the classifier.
	MaxContextEvents int `yaml:"max_context_events"`
}

// Timeout returns the per-call classification timeout.
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// LockTTL bounds how long a crashed holder can keep a service lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// NATSConfig holds NATS notification settings. Notifications are only
// published when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled returns true if a NATS server is configured.
func (c *NATSConfig) Enabled() bool {
	return c.URL != ""
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path, then applies
// a .env file from the working directory (if any), environment overrides and
// defaults. An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		// Clean the path to prevent path traversal attacks
		cleanPath := filepath.Clean(path)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Apply defaults for any unset values
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides file values with OPSASSIST_* environment variables.
func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	var mode string
	setString("STORAGE_MODE", &mode)
	if mode != "" {
		cfg.Storage.Mode = StorageMode(mode)
	}

	setString("SERVER_HOST", &cfg.Server.Host)
	setInt("SERVER_PORT", &cfg.Server.Port)

	setInt("DETECTION_WINDOW_SECONDS", &cfg.Detection.WindowSeconds)
	setInt("DETECTION_THRESHOLD", &cfg.Detection.Threshold)
	setInt("DETECTION_MAX_ATTEMPTS", &cfg.Detection.MaxAttempts)

	setString("CLASSIFIER_PROVIDER", &cfg.Classifier.Provider)
	setString("CLASSIFIER_MODEL", &cfg.Classifier.Model)
	setString("CLASSIFIER_API_KEY", &cfg.Classifier.APIKey)
	setInt("CLASSIFIER_TIMEOUT_SECONDS", &cfg.Classifier.TimeoutSeconds)
	setInt("CLASSIFIER_WORKERS", &cfg.Classifier.Workers)
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	setString("REDIS_HOST", &cfg.Redis.Host)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)

	setString("POSTGRES_HOST", &cfg.Postgres.Host)
	setString("POSTGRES_USER", &cfg.Postgres.User)
	setString("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("POSTGRES_DATABASE", &cfg.Postgres.Database)

	if brokers, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok && brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	setString("NATS_URL", &cfg.NATS.URL)

	setString("LOG_LEVEL", &cfg.Logger.Level)
	setString("LOG_FORMAT", &cfg.Logger.Format)

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Detection defaults
	if cfg.Detection.WindowSeconds == 0 {
		cfg.Detection.WindowSeconds = 300
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = 5
	}
	if cfg.Detection.MaxAttempts == 0 {
		cfg.Detection.MaxAttempts = 3
	}
	if cfg.Detection.LockTimeout == 0 {
		cfg.Detection.LockTimeout = 5 * time.Second
	}

	// Classifier defaults
	if cfg.Classifier.Provider == "" {
		cfg.Classifier.Provider = ProviderHeuristic
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "claude-sonnet-4-5"
	}
	if cfg.Classifier.MaxTokens == 0 {
		cfg.Classifier.MaxTokens = 1024
	}
	if cfg.Classifier.TimeoutSeconds == 0 {
		cfg.Classifier.TimeoutSeconds = 10
	}
	if cfg.Classifier.Workers == 0 {
		cfg.Classifier.Workers = 4
	}
	if cfg.Classifier.MaxContextEvents == 0 {
		cfg.Classifier.MaxContextEvents = 10
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "opsassist-classification"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "opsassist-classifier"
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "opsassist"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// NATS defaults
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "incidents"
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if !c.Storage.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("storage.mode must be %q or %q, got %q", StorageModeMemory, StorageModeStorage, c.Storage.Mode))
	}
	if c.Detection.WindowSeconds <= 0 {
		errs = append(errs, errors.New("detection.window_seconds must be positive"))
	}
	if c.Detection.Threshold <= 0 {
		errs = append(errs, errors.New("detection.threshold must be positive"))
	}
	if c.Detection.MaxAttempts < 2 {
		errs = append(errs, errors.New("detection.max_attempts must be at least 2"))
	}
	if c.Detection.LockTimeout <= 0 {
		errs = append(errs, errors.New("detection.lock_timeout must be positive"))
	}

	switch c.Classifier.Provider {
	case ProviderHeuristic:
	case ProviderAnthropic:
		if c.Classifier.APIKey == "" {
			errs = append(errs, errors.New("classifier.api_key is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier.provider must be %q or %q, got %q", ProviderHeuristic, ProviderAnthropic, c.Classifier.Provider))
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("classifier.timeout_seconds must be positive"))
	}
	if c.Classifier.Workers <= 0 {
		errs = append(errs, errors.New("classifier.workers must be positive"))
	}
	if c.Classifier.MaxContextEvents <= 0 {
		errs = append(errs, errors.New("classifier.max_context_events must be positive"))
	}

	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		errs = append(errs, fmt.Errorf("logger.format must be \"json\" or \"text\", got %q", c.Logger.Format))
	}

	return errors.Join(errs...)
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
