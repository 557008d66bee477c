package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the server. Tags use mapstructure for
// Viper unmarshalling; every value can be overridden by environment variable.
type Config struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// JWT access credential settings.
	JWTSecretKey      string        `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer         string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL    time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`

	// Action token TTLs per category.
	EmailVerificationTTL    time.Duration `mapstructure:"EMAIL_VERIFICATION_TTL"`
	PasswordResetTTL        time.Duration `mapstructure:"PASSWORD_RESET_TTL"`
	NewsletterConfirmTTL    time.Duration `mapstructure:"NEWSLETTER_CONFIRM_TTL"`
	NewsletterUnsubTTL      time.Duration `mapstructure:"NEWSLETTER_UNSUB_TTL"`
	NewsletterDataReqTTL    time.Duration `mapstructure:"NEWSLETTER_DATA_REQ_TTL"`
	UsedTokenRetention      time.Duration `mapstructure:"USED_TOKEN_RETENTION"`

	// Action token rate limits: max issuances per window.
	EmailVerificationRateMax  int           `mapstructure:"EMAIL_VERIFICATION_RATE_MAX"`
	PasswordResetRateMax      int           `mapstructure:"PASSWORD_RESET_RATE_MAX"`
	NewsletterConfirmRateMax  int           `mapstructure:"NEWSLETTER_CONFIRM_RATE_MAX"`
	NewsletterUnsubRateMax    int           `mapstructure:"NEWSLETTER_UNSUB_RATE_MAX"`
	NewsletterDataReqRateMax  int           `mapstructure:"NEWSLETTER_DATA_REQ_RATE_MAX"`
	NewsletterDataReqWindow   time.Duration `mapstructure:"NEWSLETTER_DATA_REQ_WINDOW"`
	DefaultRateWindow         time.Duration `mapstructure:"DEFAULT_RATE_WINDOW"`

	// Refresh-token session settings.
	RefreshTokenTTL        time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	MaxSessionsPerUser     int           `mapstructure:"MAX_SESSIONS_PER_USER"`
	SessionRatePerHour     int           `mapstructure:"SESSION_RATE_PER_HOUR"`
	RotationEnabled        bool          `mapstructure:"ROTATION_ENABLED"`
	RevokedRetention       time.Duration `mapstructure:"REVOKED_RETENTION"`

	// Revocation registry settings.
	RevocationRatePerHour int           `mapstructure:"REVOCATION_RATE_PER_HOUR"`
	RevocationCacheTTL    time.Duration `mapstructure:"REVOCATION_CACHE_TTL"`
	RedisAddr             string        `mapstructure:"REDIS_ADDR"` // Empty selects the in-memory cache

	// Second factor settings.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`

	// Cleanup scheduling.
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/blog-api/")
	v.AddConfigPath("$HOME/.blog-api")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/blog_api_dev")
	v.SetDefault("MONGO_DB_NAME", "blog_api_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)

	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("JWT_ISSUER", "blog-api")
	v.SetDefault("ACCESS_TOKEN_TTL", 15*time.Minute)

	v.SetDefault("EMAIL_VERIFICATION_TTL", 24*time.Hour)
	v.SetDefault("PASSWORD_RESET_TTL", 15*time.Minute)
	v.SetDefault("NEWSLETTER_CONFIRM_TTL", 48*time.Hour)
	v.SetDefault("NEWSLETTER_UNSUB_TTL", 365*24*time.Hour)
	v.SetDefault("NEWSLETTER_DATA_REQ_TTL", 7*24*time.Hour)
	v.SetDefault("USED_TOKEN_RETENTION", 30*24*time.Hour)

	v.SetDefault("EMAIL_VERIFICATION_RATE_MAX", 3)
	v.SetDefault("PASSWORD_RESET_RATE_MAX", 5)
	v.SetDefault("NEWSLETTER_CONFIRM_RATE_MAX", 3)
	v.SetDefault("NEWSLETTER_UNSUB_RATE_MAX", 2)
	v.SetDefault("NEWSLETTER_DATA_REQ_RATE_MAX", 1)
	v.SetDefault("NEWSLETTER_DATA_REQ_WINDOW", 24*time.Hour)
	v.SetDefault("DEFAULT_RATE_WINDOW", time.Hour)

	v.SetDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("SESSION_RATE_PER_HOUR", 10)
	v.SetDefault("ROTATION_ENABLED", true)
	v.SetDefault("REVOKED_RETENTION", 30*24*time.Hour)

	v.SetDefault("REVOCATION_RATE_PER_HOUR", 10)
	v.SetDefault("REVOCATION_CACHE_TTL", 5*time.Minute)
	v.SetDefault("REDIS_ADDR", "")

	v.SetDefault("TOTP_ISSUER", "BlogAPI")

	v.SetDefault("CLEANUP_INTERVAL", time.Hour)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
