// Package config reads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"authcore/internal/auth"
)

type Options struct {
	LoadDotEnv bool
	// DefaultTrustedProxyHops applies when TRUSTED_PROXY_HOPS is unset.
	DefaultTrustedProxyHops int
}

type Config struct {
	Port        string
	AppEnv      string
	LogLevel    string
	SentryDSN   string
	DatabaseURL string
	RedisURL    string

	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration

	Argon2Memory      int
	Argon2Iterations  int
	Argon2Parallelism int

	LoginMaxAttempts   int
	LoginLockDuration  time.Duration
	DiscloseLockExpiry bool
	StoreTimeout       time.Duration

	PasswordMinLength     int
	PasswordRequireUpper  bool
	PasswordRequireLower  bool
	PasswordRequireDigit  bool
	PasswordRequireSymbol bool

	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustedProxyHops is how many reverse proxies append to
	// X-Forwarded-For in front of the service. Zero ignores the header.
	TrustedProxyHops int

	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	CronSecret        string
	CleanupBatchSize  int
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	signingKey, err := loadSigningKey()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:        envOrDefault("PORT", "8080"),
		AppEnv:      envOrDefault("APP_ENV", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),

		SigningKey: signingKey,
		Issuer:     envOrDefault("JWT_ISSUER", "authcore"),
		TokenTTL:   envMinutesOrDefault("TOKEN_TTL_MINUTES", 60),

		Argon2Memory:      envIntOrDefault("ARGON2_MEMORY_KIB", 64*1024),
		Argon2Iterations:  envIntOrDefault("ARGON2_ITERATIONS", 3),
		Argon2Parallelism: envIntOrDefault("ARGON2_PARALLELISM", 2),

		LoginMaxAttempts:   envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		DiscloseLockExpiry: EnvBoolOrDefault("LOCKOUT_DISCLOSE_EXPIRY", false),
		StoreTimeout:       envSecondsOrDefault("STORE_TIMEOUT_SECONDS", 3),

		PasswordMinLength:     envIntOrDefault("PASSWORD_MIN_LENGTH", 8),
		PasswordRequireUpper:  EnvBoolOrDefault("PASSWORD_REQUIRE_UPPER", true),
		PasswordRequireLower:  EnvBoolOrDefault("PASSWORD_REQUIRE_LOWER", true),
		PasswordRequireDigit:  EnvBoolOrDefault("PASSWORD_REQUIRE_DIGIT", true),
		PasswordRequireSymbol: EnvBoolOrDefault("PASSWORD_REQUIRE_SYMBOL", true),

		RateLimitMax:     envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		RateLimitWindow:  envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		TrustedProxyHops: envCountOrDefault("TRUSTED_PROXY_HOPS", options.DefaultTrustedProxyHops),

		AdminUsername:     strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),

		CronSecret:        strings.TrimSpace(os.Getenv("CRON_SECRET")),
		CleanupBatchSize:  envIntOrDefault("REVOCATION_CLEANUP_BATCH_SIZE", 500),
		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
	}

	if err := cfg.AuthConfig().Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid auth settings: %w", err)
	}

	return cfg, nil
}

// AuthConfig builds the immutable configuration handed to auth components.
func (c Config) AuthConfig() auth.Config {
	cfg := auth.DefaultConfig(c.SigningKey)
	cfg.Issuer = c.Issuer
	cfg.TokenTTL = c.TokenTTL
	cfg.Hash.Memory = uint32(min(int64(c.Argon2Memory), math.MaxUint32))
	cfg.Hash.Iterations = uint32(min(int64(c.Argon2Iterations), math.MaxUint32))
	cfg.Hash.Parallelism = uint8(min(c.Argon2Parallelism, 255))
	cfg.MaxAttempts = c.LoginMaxAttempts
	cfg.LockDuration = c.LoginLockDuration
	cfg.DiscloseLockExpiry = c.DiscloseLockExpiry
	cfg.StoreTimeout = c.StoreTimeout
	cfg.Password = auth.PasswordPolicy{
		MinLength:     c.PasswordMinLength,
		RequireUpper:  c.PasswordRequireUpper,
		RequireLower:  c.PasswordRequireLower,
		RequireDigit:  c.PasswordRequireDigit,
		RequireSymbol: c.PasswordRequireSymbol,
	}
	return cfg
}

// loadSigningKey reads JWT_SECRET, or the file named by JWT_SECRET_FILE.
func loadSigningKey() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv("JWT_SECRET_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read JWT_SECRET_FILE: %w", err)
		}
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			return nil, errors.New("JWT_SECRET_FILE is empty")
		}
		return []byte(secret), nil
	}

	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, errors.New("missing required env: JWT_SECRET or JWT_SECRET_FILE")
	}
	return []byte(secret), nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// envCountOrDefault accepts zero, unlike envIntOrDefault.
func envCountOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
