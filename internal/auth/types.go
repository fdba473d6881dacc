package auth

import "time"

const (
	userStatusActive   = "active"
	userStatusDisabled = "disabled"
)

const (
	UserStatusActive   = userStatusActive
	UserStatusDisabled = userStatusDisabled
)

// Application is the tenant boundary. Every user, role and grant belongs to
// exactly one application.
type Application struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a credentialed identity within one application. Users are disabled
// rather than hard-deleted when an audit trail must be preserved; the store
// still supports deletion for administrative cleanup.
type User struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	Login         string    `json:"login"`
	PasswordHash  string    `json:"-"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Enabled reports whether the user may authenticate.
func (u User) Enabled() bool { return u.Status == userStatusActive }

// Role names an ordered list of permission strings within one application.
type Role struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Permissions   []string  `json:"permissions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Grant assigns a role to a user. All three ids must belong to the same
// application; the store enforces this before writing.
type Grant struct {
	UserID        string    `json:"user_id"`
	RoleID        string    `json:"role_id"`
	ApplicationID string    `json:"application_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// RevokedToken is a tombstone for a token id. Rows become purge-eligible once
// past their own expiry, since validation would reject the token anyway.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ApplicationUpdate carries optional field changes for an application.
type ApplicationUpdate struct {
	Slug    *string
	Name    *string
	Enabled *bool
}

// UserUpdate carries optional field changes for a user. The RBAC service
// replaces Password with its hash before the update reaches the store.
type UserUpdate struct {
	Login    *string
	Password *string
	Status   *string
}

// RoleUpdate carries optional field changes for a role.
type RoleUpdate struct {
	Name        *string
	Description *string
}
