package domain

import "time"

// TicketKind distinguishes the single-use cache entries the service issues.
type TicketKind string

const (
	// TicketEmailVerification backs the email_verification:<token> key space.
	TicketEmailVerification TicketKind = "email_verification"
	// TicketPasswordReset backs the password_reset:<token> key space.
	TicketPasswordReset TicketKind = "password_reset"
)

const (
	// VerificationTicketTTL bounds how long an email verification link stays redeemable.
	VerificationTicketTTL = 24 * time.Hour
	// ResetTicketTTL bounds how long a password reset link stays redeemable.
	ResetTicketTTL = time.Hour
	// RefreshTokenTTL is the lifetime of the per-user refresh token slot.
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Ticket is the payload stored under email_verification:<token> and
// password_reset:<token> keys. The JSON field names are part of the cache
// interoperability contract and must not change.
type Ticket struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenPair bundles the credentials returned by login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenValidation is the structured result of validating an access token.
// Valid is false for every failure mode; User is set only when Valid is true.
type TokenValidation struct {
	Valid bool        `json:"valid"`
	User  *PublicUser `json:"user,omitempty"`
}

// CleanupStats summarizes one maintenance sweep over expired auth state.
type CleanupStats struct {
	ResetTokensPurged        int64
	VerificationTokensPurged int64
	AccountsUnlocked         int64
}
