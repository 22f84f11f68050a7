package auth

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultTokenTTL       = time.Hour
	defaultMaxAttempts    = 5
	defaultLockWindow     = 15 * time.Minute
	defaultStoreTimeout   = 3 * time.Second
	defaultIssuer         = "authcore"
	defaultPasswordMinLen = 8
	minSigningKeyBytes    = 32
)

// Config is built once at startup and passed by value to every component.
// Nothing mutates it afterwards.
type Config struct {
	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration

	Hash HashParams

	MaxAttempts        int
	LockDuration       time.Duration
	DiscloseLockExpiry bool
	StoreTimeout       time.Duration
	Password           PasswordPolicy
}

// PasswordPolicy is the complexity rule set applied at registration.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultConfig returns the production defaults with the given signing key.
func DefaultConfig(signingKey []byte) Config {
	return Config{
		SigningKey:   append([]byte(nil), signingKey...),
		Issuer:       defaultIssuer,
		TokenTTL:     defaultTokenTTL,
		Hash:         DefaultHashParams(),
		MaxAttempts:  defaultMaxAttempts,
		LockDuration: defaultLockWindow,
		StoreTimeout: defaultStoreTimeout,
		Password: PasswordPolicy{
			MinLength:     defaultPasswordMinLen,
			RequireUpper:  true,
			RequireLower:  true,
			RequireDigit:  true,
			RequireSymbol: true,
		},
	}
}

func (c Config) Validate() error {
	if len(c.SigningKey) < minSigningKeyBytes {
		return fmt.Errorf("signing key must be at least %d bytes", minSigningKeyBytes)
	}
	if c.TokenTTL < 0 {
		return errors.New("token ttl must not be negative")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("lockout threshold must be positive")
	}
	if c.LockDuration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.Password.MinLength <= 0 || c.Password.MinLength > MaxPasswordBytes {
		return fmt.Errorf("password minimum length must be between 1 and %d", MaxPasswordBytes)
	}
	return c.Hash.validate()
}
