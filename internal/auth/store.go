package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CredentialStore persists credential records. UpdateLockState is a
// compare-and-swap on FailedAttempts and returns ErrLockStateConflict when
// the stored counter no longer matches expectedFailed.
type CredentialStore interface {
	GetUser(ctx context.Context, username string) (Credential, error)
	CreateUser(ctx context.Context, credential Credential) error
	UpdateLockState(ctx context.Context, username string, expectedFailed, newFailed int, newLockedUntil *time.Time) error
}

// MemoryStore is an in-process CredentialStore for single-instance
// deployments and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]Credential)}
}

func (s *MemoryStore) GetUser(ctx context.Context, username string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return Credential{}, ErrUserNotFound
	}
	return copyCredential(user), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, credential Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[credential.Username]; ok {
		return ErrUserExists
	}
	if err := assignID(&credential); err != nil {
		return err
	}
	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now
	s.users[credential.Username] = copyCredential(credential)
	return nil
}

// UpsertUser replaces the hash and role of an existing user or creates it.
// Lock state of an existing user is left untouched.
func (s *MemoryStore) UpsertUser(ctx context.Context, credential Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.users[credential.Username]
	if ok {
		existing.PasswordHash = credential.PasswordHash
		existing.Role = credential.Role
		existing.UpdatedAt = now
		s.users[credential.Username] = existing
		return nil
	}
	if err := assignID(&credential); err != nil {
		return err
	}
	credential.CreatedAt = now
	credential.UpdatedAt = now
	s.users[credential.Username] = copyCredential(credential)
	return nil
}

func (s *MemoryStore) UpdateLockState(ctx context.Context, username string, expectedFailed, newFailed int, newLockedUntil *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	if user.FailedAttempts != expectedFailed {
		return ErrLockStateConflict
	}

	user.FailedAttempts = newFailed
	user.LockedUntil = copyTime(newLockedUntil)
	user.UpdatedAt = time.Now().UTC()
	s.users[username] = user
	return nil
}

// UpdatePasswordHash swaps the hash only while it still equals currentHash.
func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, username, currentHash, newHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	if user.PasswordHash != currentHash {
		return ErrCredentialChanged
	}

	user.PasswordHash = newHash
	user.UpdatedAt = time.Now().UTC()
	s.users[username] = user
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func assignID(credential *Credential) error {
	if credential.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}
	credential.ID = id.String()
	return nil
}

func copyCredential(c Credential) Credential {
	c.LockedUntil = copyTime(c.LockedUntil)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
