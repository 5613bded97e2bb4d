package domain

import "time"

// UserRole enumerates the roles an account can carry.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID                  string
	Email               string
	Username            string
	FirstName           string
	LastName            string
	PasswordHash        string
	Role                UserRole
	IsVerified          bool
	VerificationToken   *string
	ResetToken          *string
	ResetTokenExpiresAt *time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	TokenVersion        int64
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastLogin           *time.Time
}

// IsLocked reports whether the account is inside an active lock window.
func (u User) IsLocked(at time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(at)
}

// LockRemaining returns how long the active lock window still lasts.
// Zero when the account is not locked.
func (u User) LockRemaining(at time.Time) time.Duration {
	if !u.IsLocked(at) {
		return 0
	}
	return u.LockedUntil.Sub(at)
}

// PublicUser is the projection of a user safe to return to callers.
// It never carries the password hash or token material.
type PublicUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	FirstName  string     `json:"firstName,omitempty"`
	LastName   string     `json:"lastName,omitempty"`
	Role       UserRole   `json:"role"`
	IsVerified bool       `json:"isVerified"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

// Public returns the caller-facing projection of the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLogin,
	}
}
