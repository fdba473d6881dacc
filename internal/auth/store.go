package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the authorization engine needs.
// Implementations must keep every read and write scoped to a single
// application: no query may return rows belonging to another tenant.
type Store interface {
	CreateApplication(ctx context.Context, slug, name string) (Application, error)
	ListApplications(ctx context.Context) ([]Application, error)
	GetApplication(ctx context.Context, id string) (Application, error)
	GetApplicationBySlug(ctx context.Context, slug string) (Application, error)
	UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (Application, error)
	DeleteApplication(ctx context.Context, id string) error

	CreateUser(ctx context.Context, applicationID, login, passwordHash, status string) (User, error)
	ListUsers(ctx context.Context, applicationID string) ([]User, error)
	GetUser(ctx context.Context, applicationID, userID string) (User, error)
	GetUserByLogin(ctx context.Context, applicationID, login string) (User, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, userID string) error

	CreateRole(ctx context.Context, applicationID, name, description string, permissions []string) (Role, error)
	ListRoles(ctx context.Context, applicationID string) ([]Role, error)
	GetRole(ctx context.Context, applicationID, roleID string) (Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	SetRolePermissions(ctx context.Context, roleID string, permissions []string) error
	DeleteRole(ctx context.Context, roleID string) error

	// CreateGrant and DeleteGrant verify the (user, role) pair against the
	// application atomically; a pair living in another application is
	// ErrNotFound, never touched.
	CreateGrant(ctx context.Context, applicationID, userID, roleID string) (Grant, error)
	DeleteGrant(ctx context.Context, applicationID, userID, roleID string) error
	ListGrants(ctx context.Context, applicationID, userID string) ([]Grant, error)

	// UserRoles returns the roles granted to the user within the
	// application; UserPermissions returns the deduplicated union of their
	// permission strings. Both must reflect the latest committed state.
	UserRoles(ctx context.Context, applicationID, userID string) ([]Role, error)
	UserPermissions(ctx context.Context, applicationID, userID string) ([]string, error)

	RevocationRegistry

	// PurgeRevokedTokens removes tombstones whose expiry has passed and
	// reports how many rows were deleted.
	PurgeRevokedTokens(ctx context.Context, now time.Time) (int64, error)
}
