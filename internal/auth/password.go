package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes bounds the hashing cost of a single request.
const MaxPasswordBytes = 128

const argon2idPrefix = "$argon2id$"

// Upper bounds on argon2id work factors, for configured parameters and for
// those embedded in stored credentials alike.
const (
	maxArgon2Memory     = 1024 * 1024
	maxArgon2Iterations = 64
)

// HashParams are the argon2id work factors. Memory is in KiB.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams lands around 100ms per hash on commodity hardware.
func DefaultHashParams() HashParams {
	return HashParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p HashParams) validate() error {
	if p.Memory < 8*uint32(p.Parallelism) || p.Iterations == 0 || p.Parallelism == 0 {
		return errors.New("invalid argon2 work factors")
	}
	if p.SaltLength < 8 || p.KeyLength < 16 {
		return errors.New("argon2 salt or key length too short")
	}
	if p.Memory > maxArgon2Memory || p.Iterations > maxArgon2Iterations {
		return fmt.Errorf("argon2 parameters out of range (memory <= %d KiB, iterations <= %d)", maxArgon2Memory, maxArgon2Iterations)
	}
	return nil
}

// PasswordHasher produces argon2id credentials in PHC string form:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>.
type PasswordHasher struct {
	params HashParams
	// burn is verified against when a credential cannot be parsed, so a
	// malformed credential costs the same as a mismatch.
	burnSalt []byte
}

func NewPasswordHasher(params HashParams) *PasswordHasher {
	return &PasswordHasher{
		params:   params,
		burnSalt: make([]byte, params.SaltLength),
	}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify never returns an error: malformed credentials, oversized input and
// mismatches all come back false.
func (h *PasswordHasher) Verify(password, credential string) bool {
	if isBcrypt(credential) {
		if len(password) > MaxPasswordBytes {
			h.burn(password)
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(credential), []byte(password)) == nil
	}

	params, salt, key, err := decodeArgon2id(credential)
	if err != nil || len(password) > MaxPasswordBytes {
		h.burn(password)
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// NeedsRehash reports whether credential should be replaced by a fresh Hash:
// bcrypt credentials and argon2id credentials with other work factors.
func (h *PasswordHasher) NeedsRehash(credential string) bool {
	if isBcrypt(credential) {
		return true
	}
	params, _, _, err := decodeArgon2id(credential)
	if err != nil {
		return false
	}
	return params != h.params
}

func (h *PasswordHasher) burn(password string) {
	if len(password) > MaxPasswordBytes {
		password = password[:MaxPasswordBytes]
	}
	key := argon2.IDKey([]byte(password), h.burnSalt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	subtle.ConstantTimeCompare(key, make([]byte, len(key)))
}

func isBcrypt(credential string) bool {
	return strings.HasPrefix(credential, "$2a$") ||
		strings.HasPrefix(credential, "$2b$") ||
		strings.HasPrefix(credential, "$2y$")
}

func decodeArgon2id(encoded string) (HashParams, []byte, []byte, error) {
	if !strings.HasPrefix(encoded, argon2idPrefix) {
		return HashParams{}, nil, nil, errors.New("not an argon2id credential")
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return HashParams{}, nil, nil, errors.New("invalid argon2id credential format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return HashParams{}, nil, nil, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return HashParams{}, nil, nil, errors.New("unsupported argon2 version")
	}

	var params HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return HashParams{}, nil, nil, fmt.Errorf("parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return HashParams{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return HashParams{}, nil, nil, fmt.Errorf("decode key: %w", err)
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	// Embedded work factors are attacker-controlled when the store is
	// compromised; validate refuses anything that would stall a request.
	if err := params.validate(); err != nil {
		return HashParams{}, nil, nil, err
	}

	return params, salt, key, nil
}
