package domain

import "time"

// UserRegisteredEvent represents the payload for connectkit.auth.user.registered messages.
type UserRegisteredEvent struct {
	EventID           string
	UserID            string
	Email             string
	Username          string
	RegisteredAt      time.Time
	VerificationToken string
	VerificationTTL   time.Duration
	Metadata          map[string]any
}

// UserLoggedInEvent represents the payload for connectkit.auth.user.logged_in messages.
type UserLoggedInEvent struct {
	EventID    string
	UserID     string
	LoggedInAt time.Time
	IPAddress  *string
	Metadata   map[string]any
}

// EmailVerifiedEvent represents the payload for connectkit.auth.email.verified messages.
type EmailVerifiedEvent struct {
	EventID    string
	UserID     string
	Email      string
	VerifiedAt time.Time
	Metadata   map[string]any
}

// PasswordResetRequestedEvent represents the payload for
// connectkit.auth.password.reset_requested messages. The reset token rides on
// the event so a delivery collaborator can build the email; the service itself
// never sends mail.
type PasswordResetRequestedEvent struct {
	EventID           string
	UserID            string
	RequestedAt       time.Time
	MaskedDestination string
	ResetToken        string
	ExpiresAt         time.Time
	Metadata          map[string]any
}

// PasswordChangedEvent represents the payload for connectkit.auth.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	UserID    string
	ChangedAt time.Time
	Reason    string
	Metadata  map[string]any
}
