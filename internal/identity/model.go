package identity

import "time"

// Roles a user can hold.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// User represents a registered platform account holder.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Role         string
	ReferralCode string
	// ReferredBy is the id of the referring user, empty when none.
	ReferredBy   string
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Credentials is a registration or login request.
type Credentials struct {
	Email        string
	Password     string
	ReferralCode string
}
