package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	SendGrid   SendGridConfig   `yaml:"sendgrid"`
	JWT        JWTConfig        `yaml:"jwt"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Payment    PaymentConfig    `yaml:"payment"`
	Pricing    PricingConfig    `yaml:"pricing"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ServerConfig contains the HTTP API and gRPC health listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
	// PublicBaseURL prefixes links sent to users.
	PublicBaseURL string `yaml:"public_base_url"`
	// AllowedOrigins for websocket upgrades; empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// SendGridConfig contains email settings. An empty API key logs mail instead
// of sending it.
type SendGridConfig struct {
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret              string `yaml:"secret"`
	AccessTokenExpiry   int    `yaml:"access_token_expiry_minutes"`
	PaymentTokenExpiry  int    `yaml:"payment_token_expiry_minutes"`
	DownloadTokenExpiry int    `yaml:"download_token_expiry_minutes"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	Type         string   `yaml:"type"`       // "mock" or "s3"
	UploadDir    string   `yaml:"upload_dir"` // For mock storage
	BaseURL      string   `yaml:"base_url"`   // Server base URL for mock URLs
	MaxFileSize  int64    `yaml:"max_file_size_mb"`
	AllowedTypes []string `yaml:"allowed_types"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains the deferred-job dispatcher settings
type SchedulerConfig struct {
	DispatchJobs        string `yaml:"dispatch_jobs"` // cron spec, seconds precision
	BatchSize           int    `yaml:"batch_size"`
	MaxAttempts         int32  `yaml:"max_attempts"`
	RetryBackoffSeconds int    `yaml:"retry_backoff_seconds"`
	// JobLeaseSeconds is how long a claimed job may run before another
	// runner assumes its runner died and claims it again.
	JobLeaseSeconds int `yaml:"job_lease_seconds"`
	// Embedded runs the dispatcher inside the API server instead of cmd/cronjob.
	Embedded bool `yaml:"embedded"`
}

// EncryptionConfig holds the base64 master key that wraps per-entity keys.
type EncryptionConfig struct {
	MasterKey string `yaml:"master_key"`
}

// PaymentConfig contains the payOS merchant credentials
type PaymentConfig struct {
	ClientID    string `yaml:"client_id"`
	APIKey      string `yaml:"api_key"`
	ChecksumKey string `yaml:"checksum_key"`
	ReturnURL   string `yaml:"return_url"`
	CancelURL   string `yaml:"cancel_url"`
}

// PricingConfig contains platform-wide fees, in minor currency units
type PricingConfig struct {
	PlatformFeePercent int64 `yaml:"platform_fee_percent"`
	IncludedKmPerDay   int64 `yaml:"included_km_per_day"`
	ExcessFeePerKm     int64 `yaml:"excess_fee_per_km"`
}

// MQTTConfig contains the GPS device broker settings
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       int    `yaml:"qos"`
}

// Load reads configuration from a YAML file. Variables from a .env file in
// the working directory are applied before the environment overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setInt(&c.Server.GRPCPort, "GRPC_PORT")
	setString(&c.Server.PublicBaseURL, "PUBLIC_BASE_URL")

	// Database
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")

	// Mail
	setString(&c.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&c.SendGrid.From, "MAIL_FROM")

	// Secrets
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.Encryption.MasterKey, "ENCRYPTION_MASTER_KEY")
	setString(&c.Payment.ClientID, "PAYMENT_CLIENT_ID")
	setString(&c.Payment.APIKey, "PAYMENT_API_KEY")
	setString(&c.Payment.ChecksumKey, "PAYMENT_CHECKSUM_KEY")

	// Storage
	setString(&c.Storage.Type, "STORAGE_TYPE")
	setString(&c.Storage.UploadDir, "UPLOAD_DIR")
	setString(&c.Storage.S3Bucket, "S3_BUCKET")
	setString(&c.Storage.S3AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.S3SecretKey, "S3_SECRET_KEY")

	// MQTT
	setString(&c.MQTT.BrokerURL, "MQTT_BROKER_URL")
	setString(&c.MQTT.Username, "MQTT_USERNAME")
	setString(&c.MQTT.Password, "MQTT_PASSWORD")

	// Log
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}

	// Database validation
	switch c.Database.Driver {
	case "", "postgres":
		c.Database.Driver = "postgres"
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
		// nothing else can reach an in-process store
		c.Scheduler.Embedded = true
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}
	if c.JWT.PaymentTokenExpiry == 0 {
		c.JWT.PaymentTokenExpiry = 24 * 60
	}
	if c.JWT.DownloadTokenExpiry == 0 {
		c.JWT.DownloadTokenExpiry = 15
	}

	// Encryption validation
	if _, err := c.MasterKey(); err != nil {
		return err
	}

	// Payment validation
	if c.Payment.ClientID == "" || c.Payment.APIKey == "" {
		return fmt.Errorf("payment client id and api key are required")
	}
	if c.Payment.ChecksumKey == "" {
		return fmt.Errorf("payment checksum key is required")
	}

	// Storage validation
	switch c.Storage.Type {
	case "", "mock":
		c.Storage.Type = "mock"
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("upload directory is required")
		}
	case "s3":
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			return fmt.Errorf("s3 bucket and region are required")
		}
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = c.Server.PublicBaseURL
	}
	if c.Storage.MaxFileSize == 0 {
		c.Storage.MaxFileSize = 10
	}
	if len(c.Storage.AllowedTypes) == 0 {
		c.Storage.AllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}

	// Pricing defaults
	if c.Pricing.PlatformFeePercent < 0 || c.Pricing.PlatformFeePercent > 100 {
		return fmt.Errorf("invalid platform fee percent: %d", c.Pricing.PlatformFeePercent)
	}

	// MQTT validation
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt broker url is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", c.MQTT.QoS)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "carrent-backend"
	}

	// Scheduler defaults
	if c.Scheduler.DispatchJobs == "" {
		c.Scheduler.DispatchJobs = "*/15 * * * * *" // every 15 seconds
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 50
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 5
	}
	if c.Scheduler.RetryBackoffSeconds <= 0 {
		c.Scheduler.RetryBackoffSeconds = 30
	}
	if c.Scheduler.JobLeaseSeconds <= 0 {
		c.Scheduler.JobLeaseSeconds = 300
	}

	return nil
}

// MasterKey decodes the envelope master key.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Encryption.MasterKey == "" {
		return nil, fmt.Errorf("encryption master key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Encryption.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("encryption master key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption master key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP API address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the gRPC health address; empty when disabled.
func (c *Config) GetGRPCAddress() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpiry) * time.Minute
}

func (c *Config) PaymentTokenTTL() time.Duration {
	return time.Duration(c.JWT.PaymentTokenExpiry) * time.Minute
}

func (c *Config) DownloadTokenTTL() time.Duration {
	return time.Duration(c.JWT.DownloadTokenExpiry) * time.Minute
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Scheduler.RetryBackoffSeconds) * time.Second
}

// JobLease bounds how long a Running job stays claimed.
func (c *Config) JobLease() time.Duration {
	if c.Scheduler.JobLeaseSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Scheduler.JobLeaseSeconds) * time.Second
}
