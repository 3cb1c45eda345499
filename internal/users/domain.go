package users

import (
	"strings"
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

const (
	// MaxFailedAttempts locks an account after this many consecutive failures.
	MaxFailedAttempts = 5
	// LockDuration is how long a locked account stays locked.
	LockDuration = time.Hour
)

// User is an account in the identity directory. Users are never hard deleted.
type User struct {
	ID                  int64      `json:"id"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	PhoneNumber         string     `json:"phoneNumber,omitempty"`
	PasswordHash        string     `json:"-"`
	Enabled             bool       `json:"enabled"`
	Locked              bool       `json:"locked"`
	FailedLoginAttempts int        `json:"failedLoginAttempts"`
	LockedUntil         *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP         string     `json:"lastLoginIp,omitempty"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsLocked reports whether the lock is still in force at now.
func (u User) IsLocked(now time.Time) bool {
	return u.Locked && u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LiftExpiredLock clears a lock whose period has passed.
func (u *User) LiftExpiredLock(now time.Time) bool {
	if !u.Locked || u.IsLocked(now) {
		return false
	}
	u.Locked = false
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
	return true
}

// RecordFailedLogin counts a failed attempt and reports whether it locked the
// account.
func (u *User) RecordFailedLogin(now time.Time) bool {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts < MaxFailedAttempts {
		return false
	}
	until := now.Add(LockDuration)
	u.Locked = true
	u.LockedUntil = &until
	return true
}

// RecordSuccessfulLogin resets the failure counter and stamps the login.
func (u *User) RecordSuccessfulLogin(now time.Time, ip string) {
	u.FailedLoginAttempts = 0
	u.Locked = false
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.LastLoginIP = ip
}

// ListFilter narrows user listings.
type ListFilter struct {
	Query   string
	Enabled *bool
}

var (
	ErrUserNotFound    = shared.NewError(shared.KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrEmailTaken      = shared.NewError(shared.KindAlreadyExists, "EMAIL_TAKEN", "email is already registered")
	ErrUsernameTaken   = shared.NewError(shared.KindAlreadyExists, "USERNAME_TAKEN", "username is already taken")
	ErrAlreadyEnabled  = shared.NewError(shared.KindInvalidStateTransition, "USER_ALREADY_ENABLED", "user is already enabled")
	ErrAlreadyDisabled = shared.NewError(shared.KindInvalidStateTransition, "USER_ALREADY_DISABLED", "user is already disabled")
	ErrSelfDisable     = shared.NewError(shared.KindProtectedResource, "SELF_DISABLE", "administrators cannot disable their own account")
)
