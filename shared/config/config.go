// Package config loads settings shared by the API server and the worker
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all configuration values
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`

	// Temporal; an empty encryption key stores payloads in clear text
	TemporalHost         string `mapstructure:"TEMPORAL_HOST"`
	TaskQueue            string `mapstructure:"TASK_QUEUE"`
	PayloadEncryptionKey string `mapstructure:"PAYLOAD_ENCRYPTION_KEY"`

	// Vehicle catalog; empty selects the built-in offers
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// One-time code store; empty keeps codes in memory
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisOTPDB    int           `mapstructure:"REDIS_OTP_DB"`
	OTPTTL        time.Duration `mapstructure:"OTP_TTL"`

	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`

	// Share of simulated payments that are declined, 0 to 1
	PaymentFailureRate float64 `mapstructure:"PAYMENT_FAILURE_RATE"`

	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	TimeZone           string        `mapstructure:"TIME_ZONE"`
}

// Load reads config.yaml from . or ./config if present, then the
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	v.SetDefault("CORS_ALLOWED_ORIGIN", "*")
	v.SetDefault("TEMPORAL_HOST", "localhost:7233")
	v.SetDefault("TASK_QUEUE", "ride-booking-queue")
	v.SetDefault("PAYLOAD_ENCRYPTION_KEY", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_OTP_DB", 2)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("PAYMENT_FAILURE_RATE", 0.0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("TIME_ZONE", "Asia/Kolkata")
}

func (c *Config) validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.IsProduction() && c.PayloadEncryptionKey == "" {
		return fmt.Errorf("PAYLOAD_ENCRYPTION_KEY is required in production")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.SessionIdleTimeout)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL)
	}
	if c.PaymentFailureRate < 0 || c.PaymentFailureRate > 1 {
		return fmt.Errorf("PAYMENT_FAILURE_RATE must be between 0 and 1, got %v", c.PaymentFailureRate)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return nil
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the time zone travel dates are interpreted in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SigningSecret returns the session token key. Outside production a fixed
// development key is used when none is configured.
func (c *Config) SigningSecret() []byte {
	if c.JWTSecret == "" {
		return []byte("ride-booking-dev-secret")
	}
	return []byte(c.JWTSecret)
}
