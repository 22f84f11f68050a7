package auth

import "time"

// LockState is the slice of a credential record owned by LockoutTracker.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

func (s LockState) clean() bool {
	return s.FailedAttempts == 0 && s.LockedUntil == nil
}

// LockoutTracker decides lock transitions. It is pure: the service reads the
// state, asks the tracker for the next one, and writes it back with a
// conditional update keyed on FailedAttempts.
type LockoutTracker struct {
	threshold int
	duration  time.Duration
}

func NewLockoutTracker(threshold int, duration time.Duration) LockoutTracker {
	if threshold <= 0 {
		threshold = defaultMaxAttempts
	}
	if duration <= 0 {
		duration = defaultLockWindow
	}
	return LockoutTracker{threshold: threshold, duration: duration}
}

// IsLocked is true while now is before LockedUntil. A lock in the past means
// the account is Active again; there is no explicit unlock.
func (t LockoutTracker) IsLocked(state LockState, now time.Time) bool {
	return state.LockedUntil != nil && now.Before(*state.LockedUntil)
}

// OnFailure returns the state after one more failed attempt and whether it
// moved the account to Locked.
func (t LockoutTracker) OnFailure(state LockState, now time.Time) (LockState, bool) {
	next := LockState{FailedAttempts: state.FailedAttempts + 1, LockedUntil: state.LockedUntil}
	if next.FailedAttempts >= t.threshold {
		until := now.UTC().Add(t.duration)
		next.LockedUntil = &until
		return next, true
	}
	return next, false
}

// OnSuccess resets the counter and clears any expired lock.
func (t LockoutTracker) OnSuccess(LockState) LockState {
	return LockState{}
}
