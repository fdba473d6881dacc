package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"secma.org/internal/auth"
)

func newMockStore(t *testing.T, cfg Config) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := New(db, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "application_id", "login", "password_hash", "status", "created_at", "updated_at"})
}

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{TablePrefix: "drop table; --"},
		{Schema: "1bad"},
		{Schema: "auth; drop"},
	}
	for _, cfg := range bad {
		if err := cfg.validate(); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
	good := []Config{
		{},
		{TablePrefix: "secma_"},
		{TablePrefix: "secma_", Schema: "authz"},
	}
	for _, cfg := range good {
		if err := cfg.validate(); err != nil {
			t.Fatalf("unexpected validation error for %+v: %v", cfg, err)
		}
	}
}

func TestTableQualification(t *testing.T) {
	tset := newTableSet(Config{TablePrefix: "secma_", Schema: "authz"})
	if tset.users != "authz.secma_users" {
		t.Fatalf("unexpected users table name: %s", tset.users)
	}
	if tset.revoked != "authz.secma_revoked_tokens" {
		t.Fatalf("unexpected revoked table name: %s", tset.revoked)
	}
	tset = newTableSet(Config{})
	if tset.apps != "applications" {
		t.Fatalf("unexpected apps table name: %s", tset.apps)
	}
}

func TestGetUserByLoginScopesByApplication(t *testing.T) {
	store, mock := newMockStore(t, Config{TablePrefix: "secma_"})
	now := time.Now().UTC()

	mock.ExpectQuery("(?s)select id, application_id, login, password_hash, status, created_at, updated_at.*from secma_users.*where application_id = \\$1 and login = \\$2").
		WithArgs("app-1", "alice").
		WillReturnRows(userRows().AddRow("u-1", "app-1", "alice", "$2a$hash", "active", now, now))

	user, err := store.GetUserByLogin(context.Background(), "app-1", "alice")
	if err != nil {
		t.Fatalf("GetUserByLogin: %v", err)
	}
	if user.ID != "u-1" || user.PasswordHash != "$2a$hash" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "app-1", "alice", "hash", "active").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateUser(context.Background(), "app-1", "alice", "hash", "active")
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateUserMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "missing-app", "alice", "hash", "active").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.CreateUser(context.Background(), "missing-app", "alice", "hash", "active")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConnectionErrorMapsToStoreUnavailable(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery("select id, slug, name, enabled").
		WithArgs("app-1").
		WillReturnError(&pgconn.PgError{Code: "08006"})

	_, err := store.GetApplication(context.Background(), "app-1")
	if !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCreateRoleInsertsPermissionsInOrder(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into roles").
		WithArgs(sqlmock.AnyArg(), "app-1", "editor", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "name", "description", "created_at", "updated_at"}).
			AddRow("r-1", "app-1", "editor", nil, now, now))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r-1", "doc:read", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r-1", "doc:write", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	role, err := store.CreateRole(context.Background(), "app-1", "editor", "", []string{"doc:read", "doc:write"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "doc:read" {
		t.Fatalf("unexpected permissions: %v", role.Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGrantRejectsCrossTenantPair(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	// The insert-select produces no row when the user or role lives in a
	// different application.
	mock.ExpectQuery("insert into grants").
		WithArgs("u-1", "r-other", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role_id", "application_id", "created_at"}))

	_, err := store.CreateGrant(context.Background(), "app-1", "u-1", "r-other")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteGrantScopedByApplication(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	// The delete names the application, so a (user, role) pair living in a
	// different tenant affects zero rows.
	mock.ExpectExec("(?s)delete from grants.*where user_id = \\$1 and role_id = \\$2 and application_id = \\$3").
		WithArgs("u-1", "r-1", "app-other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteGrant(context.Background(), "app-other", "u-1", "r-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserPermissionsQuery(t *testing.T) {
	store, mock := newMockStore(t, Config{TablePrefix: "secma_"})

	mock.ExpectQuery("(?s)select distinct rp.permission.*from secma_grants g.*join secma_role_permissions rp").
		WithArgs("app-1", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("doc:read").AddRow("doc:write"))

	perms, err := store.UserPermissions(context.Background(), "app-1", "u-1")
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(perms) != 2 || perms[1] != "doc:write" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
}

func TestRevokeTokenUpsert(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	exp := time.Now().Add(time.Hour)

	mock.ExpectExec("(?s)insert into revoked_tokens.*on conflict \\(jti\\) do nothing").
		WithArgs("jti-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.RevokeToken(context.Background(), "jti-1", exp, time.Now()); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsTokenRevoked(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery("select 1 from revoked_tokens").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from revoked_tokens").
		WithArgs("jti-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	revoked, err := store.IsTokenRevoked(context.Background(), "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	revoked, err = store.IsTokenRevoked(context.Background(), "jti-2")
	if err != nil || revoked {
		t.Fatalf("expected not revoked, got %v err=%v", revoked, err)
	}
}

func TestPurgeRevokedTokens(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	now := time.Now()

	mock.ExpectExec("delete from revoked_tokens where expires_at <=").
		WithArgs(now.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PurgeRevokedTokens(context.Background(), now)
	if err != nil {
		t.Fatalf("PurgeRevokedTokens: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 purged, got %d", n)
	}
}
