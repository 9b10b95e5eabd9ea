package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Store        StoreConfig        `yaml:"store"`
	JWT          JWTConfig          `yaml:"jwt"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	AWS          AWSConfig          `yaml:"aws"`
	Verification VerificationConfig `yaml:"verification"`
	Binding      BindingConfig      `yaml:"binding"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Limits       LimitsConfig       `yaml:"limits"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	CORSOrigin  string `yaml:"cors_origin"`
	FrontendURL string `yaml:"frontend_url"`
	PublicURL   string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// StoreConfig tunes the row-store adapter. Reads get the longer timeout and
// more attempts; writes are retried at most once and only on transport
// failures.
type StoreConfig struct {
	ReadTimeoutMs    int `yaml:"read_timeout_ms"`
	WriteTimeoutMs   int `yaml:"write_timeout_ms"`
	ReadMaxAttempts  int `yaml:"read_max_attempts"`
	WriteMaxAttempts int `yaml:"write_max_attempts"`
}

// JWTConfig holds credential signing configuration
type JWTConfig struct {
	Secret       string `yaml:"secret"`
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
	ExpiresHours int    `yaml:"expires_hours"`
}

// SMTPConfig holds outbound mail configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// AWSConfig holds blob-storage configuration
type AWSConfig struct {
	Region             string `yaml:"region"`
	S3Bucket           string `yaml:"s3_bucket"`
	AccessKey          string `yaml:"access_key"`
	SecretKey          string `yaml:"secret_key"`
	Endpoint           string `yaml:"endpoint"`
	StorageEnabled     bool   `yaml:"storage_enabled"`
	BucketPublic       bool   `yaml:"bucket_public"`
	SignedURLTTLSecond int    `yaml:"signed_url_ttl_seconds"`
}

// VerificationConfig tunes the email verification ledger.
type VerificationConfig struct {
	CodeTTLMinutes        int `yaml:"code_ttl_minutes"`
	MaxAttempts           int `yaml:"max_attempts"`
	SignupCooldownSeconds int `yaml:"signup_cooldown_seconds"`
	ResetCooldownSeconds  int `yaml:"reset_cooldown_seconds"`
	UniformLatencyMs      int `yaml:"uniform_latency_ms"`
}

// BindingConfig tunes the partner binding protocol.
type BindingConfig struct {
	RequestTTLHours int `yaml:"request_ttl_hours"`
}

// RateLimitConfig holds the three limiter tiers.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	APIMax        int `yaml:"api_max"`
	AuthMax       int `yaml:"auth_max"`
	SensitiveMax  int `yaml:"sensitive_max"`
}

// LimitsConfig holds body/image/pagination ceilings.
type LimitsConfig struct {
	BodyLimitBytes   int64 `yaml:"body_limit_bytes"`
	MaxImageBytes    int   `yaml:"max_image_bytes"`
	PageDefaultLimit int   `yaml:"page_default_limit"`
	PageMaxLimit     int   `yaml:"page_max_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8787,
			Host:        "0.0.0.0",
			CORSOrigin:  "*",
			FrontendURL: "http://localhost:3000",
		},
		Store: StoreConfig{
			ReadTimeoutMs:    12000,
			WriteTimeoutMs:   18000,
			ReadMaxAttempts:  2,
			WriteMaxAttempts: 1,
		},
		JWT: JWTConfig{
			Issuer:       "gift-journal-backend",
			Audience:     "gift-journal-app",
			ExpiresHours: 24 * 7,
		},
		Verification: VerificationConfig{
			CodeTTLMinutes:        10,
			MaxAttempts:           5,
			SignupCooldownSeconds: 45,
			ResetCooldownSeconds:  300,
			UniformLatencyMs:      650,
		},
		Binding: BindingConfig{RequestTTLHours: 24},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			APIMax:        100,
			AuthMax:       30,
			SensitiveMax:  5,
		},
		Limits: LimitsConfig{
			BodyLimitBytes:   12 << 20,
			MaxImageBytes:    10 << 20,
			PageDefaultLimit: 50,
			PageMaxLimit:     100,
		},
		AWS: AWSConfig{
			StorageEnabled:     true,
			SignedURLTTLSecond: 3600,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate rejects configurations that must crash the boot sequence instead
// of degrading at request time.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and dbname are required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt secret is too weak: need at least 32 characters")
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return fmt.Errorf("jwt issuer and audience are required")
	}
	if c.Store.WriteMaxAttempts > 2 {
		return fmt.Errorf("store write_max_attempts must be at most 2")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ReadTimeout returns the read-class store timeout.
func (c *StoreConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the write-class store timeout.
func (c *StoreConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// UniformLatency returns the minimum latency floor for auth-adjacent
// endpoints.
func (c *VerificationConfig) UniformLatency() time.Duration {
	return time.Duration(c.UniformLatencyMs) * time.Millisecond
}

// CodeTTL returns the verification code lifetime.
func (c *VerificationConfig) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLMinutes) * time.Minute
}

// RequestTTL returns the binding request lifetime.
func (c *BindingConfig) RequestTTL() time.Duration {
	return time.Duration(c.RequestTTLHours) * time.Hour
}
