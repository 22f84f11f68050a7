package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authcore/internal/observability"
)

const maxLockStateRetries = 8

// dummyPassword is hashed once at startup; unknown users and locked accounts
// are verified against it so they cost the same as a wrong password.
const dummyPassword = "placeholder-credential-never-matches"

type Service struct {
	cfg      Config
	store    CredentialStore
	hasher   *PasswordHasher
	tracker  LockoutTracker
	tokens   *TokenService
	denylist Denylist
	logger   *observability.Logger
	now      func() time.Time

	dummyCredential string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithDenylist(denylist Denylist) Option {
	return func(s *Service) {
		s.denylist = denylist
	}
}

func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store CredentialStore, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		hasher:  NewPasswordHasher(cfg.Hash),
		tracker: NewLockoutTracker(cfg.MaxAttempts, cfg.LockDuration),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.denylist == nil {
		s.denylist = NewMemoryDenylist()
	}
	s.tokens = NewTokenService(cfg.SigningKey, cfg.Issuer, s.now)

	dummy, err := s.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder credential: %w", err)
	}
	s.dummyCredential = dummy

	return s, nil
}

// Register validates the username and password policies and stores a new
// credential with a clean lock state.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = normalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return invalidInput(err.Error())
	}
	if err := s.cfg.Password.Validate(password); err != nil {
		return invalidInput(err.Error())
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) || errors.Is(err, ErrPasswordTooLong) {
			return invalidInput(err.Error())
		}
		return s.internalFailure("register_hash_failed", username, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	err = s.store.CreateUser(storeCtx, Credential{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleUser,
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return &Error{Kind: KindConflict, Message: msgUsernameTaken, Err: err}
		}
		return s.storeFailure("register_store_failed", username, err)
	}

	s.logger.Info("user_registered", map[string]any{"username": username})
	return nil
}

// Login returns a bearer token on success. Every authentication failure
// carries the same message; only Transient and Internal errors differ.
func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	now := s.now().UTC()
	username = normalizeUsername(username)

	if validateUsername(username) != nil || password == "" || len(password) > MaxPasswordBytes {
		s.hasher.Verify(password, s.dummyCredential)
		recordLogin(outcomeInvalidInput)
		return Tokens{}, unauthorized(msgInvalidCredentials, nil)
	}

	user, err := s.getUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.Verify(password, s.dummyCredential)
			recordLogin(outcomeUnknownUser)
			s.logger.Info("login_failed", map[string]any{"username": username, "reason": outcomeUnknownUser})
			return Tokens{}, unauthorized(msgInvalidCredentials, nil)
		}
		recordLogin(outcomeError)
		return Tokens{}, s.storeFailure("login_lookup_failed", username, err)
	}

	state := user.LockState()
	if s.tracker.IsLocked(state, now) {
		s.hasher.Verify(password, s.dummyCredential)
		recordLogin(outcomeLocked)
		s.logger.Info("login_failed", map[string]any{"username": username, "reason": outcomeLocked})
		return Tokens{}, s.lockedError(state)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return Tokens{}, s.recordFailure(ctx, username, state, now)
	}

	role, err := s.recordSuccess(ctx, username, state, user.Role, now)
	if err != nil {
		return Tokens{}, err
	}
	s.upgradeCredential(ctx, username, password, user.PasswordHash)

	token, claims, err := s.tokens.Issue(username, role, s.cfg.TokenTTL)
	if err != nil {
		recordLogin(outcomeError)
		return Tokens{}, s.internalFailure("token_issue_failed", username, err)
	}

	recordLogin(outcomeSuccess)
	s.logger.Info("login_succeeded", map[string]any{"username": username, "token_id": claims.TokenID})

	return Tokens{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL.Seconds()),
	}, nil
}

// Authorize verifies the token and checks that its role is at least
// required. Verification failures of any kind are KindUnauthorized.
func (s *Service) Authorize(ctx context.Context, token string, required Role) (Claims, error) {
	claims, err := s.verify(ctx, token)
	if err != nil {
		return Claims{}, err
	}

	if !claims.Role.IsAtLeast(required) {
		s.logger.Info("authorization_denied", map[string]any{
			"subject":       claims.Subject,
			"role":          claims.Role,
			"required_role": required,
		})
		return Claims{}, &Error{Kind: KindForbidden, Message: msgForbidden}
	}

	return claims, nil
}

// Logout revokes the token until its natural expiry.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.verify(ctx, token)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	// The remaining lifetime is measured on the clock that accepted the token.
	ttl := max(claims.ExpiresAt.Sub(s.now()), time.Second)
	if err := s.denylist.Revoke(storeCtx, claims.TokenID, ttl); err != nil {
		return s.storeFailure("token_revoke_failed", claims.Subject, err)
	}

	s.logger.Info("token_revoked", map[string]any{"subject": claims.Subject, "token_id": claims.TokenID})
	return nil
}

// BootstrapAdmin creates or refreshes the admin account from startup
// configuration. Exactly one of password and passwordHash must be set.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password, passwordHash string) error {
	username = normalizeUsername(username)
	passwordHash = strings.TrimSpace(passwordHash)
	hasPassword := strings.TrimSpace(password) != ""

	if username == "" && !hasPassword && passwordHash == "" {
		return nil
	}
	if err := validateUsername(username); err != nil {
		return fmt.Errorf("admin username: %w", err)
	}
	if hasPassword == (passwordHash != "") {
		return errors.New("exactly one of ADMIN_PASSWORD and ADMIN_PASSWORD_HASH is required with ADMIN_USERNAME")
	}

	upserter, ok := s.store.(interface {
		UpsertUser(ctx context.Context, credential Credential) error
	})
	if !ok {
		return errors.New("credential store does not support admin bootstrap")
	}

	hash := passwordHash
	if hasPassword {
		var err error
		if hash, err = s.hasher.Hash(password); err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
	} else if !isBcrypt(hash) {
		if _, _, _, err := decodeArgon2id(hash); err != nil {
			return fmt.Errorf("admin password hash: %w", err)
		}
	}

	if err := upserter.UpsertUser(ctx, Credential{Username: username, PasswordHash: hash, Role: RoleAdmin}); err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"username": username})
	return nil
}

// upgradeCredential replaces bcrypt or outdated argon2id credentials after a
// successful login so later verifications run at the configured cost.
// Failures leave the old credential in place.
func (s *Service) upgradeCredential(ctx context.Context, username, password, current string) {
	if !s.hasher.NeedsRehash(current) {
		return
	}
	updater, ok := s.store.(interface {
		UpdatePasswordHash(ctx context.Context, username, currentHash, newHash string) error
	})
	if !ok {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("credential_rehash_failed", map[string]any{"username": username, "error": err.Error()})
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := updater.UpdatePasswordHash(storeCtx, username, current, hash); err != nil {
		s.logger.Warn("credential_rehash_failed", map[string]any{"username": username, "error": err.Error()})
		return
	}
	s.logger.Info("credential_rehashed", map[string]any{"username": username})
}

func (s *Service) verify(ctx context.Context, token string) (Claims, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		recordTokenRejection(err)
		s.logger.Debug("token_rejected", map[string]any{"error": err.Error()})
		return Claims{}, unauthorized(msgUnauthorized, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	revoked, err := s.denylist.IsRevoked(storeCtx, claims.TokenID)
	if err != nil {
		return Claims{}, s.storeFailure("denylist_check_failed", claims.Subject, err)
	}
	if revoked {
		recordTokenRejection(ErrRevokedToken)
		return Claims{}, unauthorized(msgUnauthorized, ErrRevokedToken)
	}

	return claims, nil
}

// recordFailure applies the failure transition with compare-and-swap. On a
// conflict it re-reads; if the account got locked meanwhile this attempt is
// rejected as locked and not counted.
func (s *Service) recordFailure(ctx context.Context, username string, state LockState, now time.Time) error {
	for range maxLockStateRetries {
		next, locked := s.tracker.OnFailure(state, now)
		err := s.updateLockState(ctx, username, state, next)
		if err == nil {
			recordLogin(outcomeBadPassword)
			if locked {
				lockouts.Inc()
				s.logger.Warn("account_locked", map[string]any{
					"username":        username,
					"failed_attempts": next.FailedAttempts,
					"locked_until":    next.LockedUntil,
				})
				return s.lockedError(next)
			}
			s.logger.Info("login_failed", map[string]any{
				"username":        username,
				"reason":          outcomeBadPassword,
				"failed_attempts": next.FailedAttempts,
			})
			return unauthorized(msgInvalidCredentials, nil)
		}
		if !errors.Is(err, ErrLockStateConflict) {
			recordLogin(outcomeError)
			return s.storeFailure("record_failure_failed", username, err)
		}

		user, err := s.getUser(ctx, username)
		if err != nil {
			recordLogin(outcomeError)
			return s.storeFailure("record_failure_reload_failed", username, err)
		}
		state = user.LockState()
		if s.tracker.IsLocked(state, now) {
			recordLogin(outcomeLocked)
			return s.lockedError(state)
		}
	}

	recordLogin(outcomeError)
	return s.storeFailure("record_failure_contended", username, fmt.Errorf("%w: retries exhausted", ErrStoreUnavailable))
}

// recordSuccess resets the lock state. If a concurrent failure locked the
// account first, the login is rejected as locked. The returned role is the
// one read last.
func (s *Service) recordSuccess(ctx context.Context, username string, state LockState, role Role, now time.Time) (Role, error) {
	for range maxLockStateRetries {
		if state.clean() {
			return role, nil
		}
		err := s.updateLockState(ctx, username, state, s.tracker.OnSuccess(state))
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, ErrLockStateConflict) {
			recordLogin(outcomeError)
			return "", s.storeFailure("record_success_failed", username, err)
		}

		user, err := s.getUser(ctx, username)
		if err != nil {
			recordLogin(outcomeError)
			return "", s.storeFailure("record_success_reload_failed", username, err)
		}
		state, role = user.LockState(), user.Role
		if s.tracker.IsLocked(state, now) {
			recordLogin(outcomeLocked)
			return "", s.lockedError(state)
		}
	}

	recordLogin(outcomeError)
	return "", s.storeFailure("record_success_contended", username, fmt.Errorf("%w: retries exhausted", ErrStoreUnavailable))
}

func (s *Service) getUser(ctx context.Context, username string) (Credential, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.GetUser(storeCtx, username)
}

func (s *Service) updateLockState(ctx context.Context, username string, current, next LockState) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.UpdateLockState(storeCtx, username, current.FailedAttempts, next.FailedAttempts, next.LockedUntil)
}

func (s *Service) lockedError(state LockState) error {
	if s.cfg.DiscloseLockExpiry && state.LockedUntil != nil {
		return unauthorized("login temporarily locked", ErrLoginLocked{Until: *state.LockedUntil})
	}
	return unauthorized(msgInvalidCredentials, nil)
}

func (s *Service) storeFailure(event, username string, err error) error {
	traceID := uuid.NewString()
	s.logger.Error(event, map[string]any{
		"username":  username,
		"trace_id":  traceID,
		"transient": isTransient(err),
		"error":     err.Error(),
	})

	if isTransient(err) {
		return &Error{Kind: KindTransient, Message: msgTemporaryFailure, TraceID: traceID, Err: err}
	}
	return &Error{Kind: KindInternal, Message: msgInternalFailure, TraceID: traceID, Err: err}
}

func (s *Service) internalFailure(event, username string, err error) error {
	traceID := uuid.NewString()
	s.logger.Error(event, map[string]any{"username": username, "trace_id": traceID, "error": err.Error()})
	return &Error{Kind: KindInternal, Message: msgInternalFailure, TraceID: traceID, Err: err}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func invalidInput(message string) error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func unauthorized(message string, cause error) error {
	return &Error{Kind: KindUnauthorized, Message: message, Err: cause}
}
