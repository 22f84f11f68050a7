package auth

import (
	"errors"
	"time"
)

// Kind classifies an error for the request boundary.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

const (
	msgInvalidCredentials = "invalid username or password"
	msgUnauthorized       = "unauthorized"
	msgForbidden          = "insufficient role"
	msgUsernameTaken      = "username already exists"
	msgTemporaryFailure   = "temporary failure, retry later"
	msgInternalFailure    = "internal error"
)

// Error is returned by Service operations. Message is safe to show to the
// caller; Err holds the internal cause and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	TraceID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// Store errors.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrLockStateConflict = errors.New("lock state changed concurrently")
	ErrCredentialChanged = errors.New("password hash changed concurrently")
	ErrStoreUnavailable  = errors.New("credential store unavailable")
)

// Hashing errors.
var (
	ErrEmptyPassword   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
)

// Token verification errors. They stay distinct for logs and metrics and
// collapse into KindUnauthorized at the service boundary.
var (
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
	ErrRevokedToken     = errors.New("token revoked")
)

// ErrLoginLocked is wrapped into the login error only when lock expiry
// disclosure is enabled.
type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
