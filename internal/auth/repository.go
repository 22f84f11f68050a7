package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository is the Postgres CredentialStore and Denylist.
type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedRevokedTokens int64 `json:"deleted_revoked_tokens"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) GetUser(ctx context.Context, username string) (Credential, error) {
	var user Credential
	var role string
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, failed_attempts, locked_until, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.FailedAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrUserNotFound
		}
		return Credential{}, storeError("query user by username", err)
	}

	user.Role = Role(role)
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}

	return user, nil
}

func (r *Repository) CreateUser(ctx context.Context, credential Credential) error {
	if err := assignID(&credential); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, failed_attempts, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NULL, $5, $5)
	`, credential.ID, credential.Username, credential.PasswordHash, string(credential.Role), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return storeError("insert user", err)
	}

	return nil
}

// UpsertUser sets the hash and role for username, creating the row if
// needed. Lock state of an existing row is left untouched.
func (r *Repository) UpsertUser(ctx context.Context, credential Credential) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, failed_attempts, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NULL, $5, $5)
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
	`, id.String(), credential.Username, credential.PasswordHash, string(credential.Role), now)
	if err != nil {
		return storeError("upsert user", err)
	}

	return nil
}

func (r *Repository) UpdateLockState(ctx context.Context, username string, expectedFailed, newFailed int, newLockedUntil *time.Time) error {
	var lockedUntil any
	if newLockedUntil != nil {
		lockedUntil = newLockedUntil.UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = $3, locked_until = $4, updated_at = $5
		WHERE username = $1 AND failed_attempts = $2
	`, username, expectedFailed, newFailed, lockedUntil, time.Now().UTC())
	if err != nil {
		return storeError("update lock state", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("lock state rows affected", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return storeError("check user exists", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrLockStateConflict
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, username, currentHash, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $3, updated_at = $4
		WHERE username = $1 AND password_hash = $2
	`, username, currentHash, newHash, time.Now().UTC())
	if err != nil {
		return storeError("update password hash", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("password hash rows affected", err)
	}
	if affected == 0 {
		return ErrCredentialChanged
	}
	return nil
}

// Revoke records the token until ttl from now on the database host clock,
// which is also the clock CleanupExpiredRevocations prunes by.
func (r *Repository) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("revoke token: non-positive ttl %s", ttl)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_revoked_tokens (token_id, expires_at, revoked_at)
		VALUES ($1, NOW() + make_interval(secs => $2), NOW())
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, ttl.Seconds())
	if err != nil {
		return storeError("insert revoked token", err)
	}
	return nil
}

func (r *Repository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM auth_revoked_tokens WHERE token_id = $1)
	`, tokenID).Scan(&revoked)
	if err != nil {
		return false, storeError("query revoked token", err)
	}
	return revoked, nil
}

// CleanupExpiredRevocations deletes revocations whose token has expired, at
// most batchSize rows.
func (r *Repository) CleanupExpiredRevocations(ctx context.Context, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT token_id
			FROM auth_revoked_tokens
			WHERE expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		DELETE FROM auth_revoked_tokens t
		USING stale
		WHERE t.token_id = stale.token_id
	`, batchSize)
	if err != nil {
		return CleanupResult{}, storeError("delete expired revocations", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, storeError("expired revocations rows affected", err)
	}

	return CleanupResult{DeletedRevokedTokens: affected}, nil
}

// storeError marks connectivity and timeout failures as ErrStoreUnavailable
// so the service can report them as retryable.
func storeError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		pgconn.Timeout(err),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
