package auth

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roleLevels = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// IsAtLeast reports whether r meets the minimum required role. Unknown roles
// never satisfy anything.
func (r Role) IsAtLeast(required Role) bool {
	have, ok := roleLevels[r]
	if !ok {
		return false
	}
	need, ok := roleLevels[required]
	if !ok {
		return false
	}
	return have >= need
}

// Credential is the record kept by the credential store.
type Credential struct {
	ID             string
	Username       string
	PasswordHash   string
	Role           Role
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c Credential) LockState() LockState {
	return LockState{FailedAttempts: c.FailedAttempts, LockedUntil: c.LockedUntil}
}

// Claims is the identity carried by a bearer token.
type Claims struct {
	TokenID   string
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Tokens struct {
	AccessToken string `json:"token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
