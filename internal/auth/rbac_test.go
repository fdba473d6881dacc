package auth

import (
	"context"
	"errors"
	"testing"
)

func TestCreateApplicationValidatesSlug(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()

	for _, slug := range []string{"", "ab", "Has-Upper", "spa ce", "dot.ted"} {
		if _, err := f.rbac.CreateApplication(ctx, slug, "Bad"); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("slug %q: expected ErrInvalidInput, got %v", slug, err)
		}
	}
	if _, err := f.rbac.CreateApplication(ctx, "app-one", "Dup"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate slug: expected ErrConflict, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()

	if _, err := f.rbac.CreateUser(ctx, f.app.ID, "Bad Login!", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad login, got %v", err)
	}
	if _, err := f.rbac.CreateUser(ctx, f.app.ID, "valid.login", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty password, got %v", err)
	}
	if _, err := f.rbac.CreateUser(ctx, f.app.ID, "u1", "pw"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate login, got %v", err)
	}

	// Same login in another application is fine: uniqueness is per tenant.
	other, err := f.rbac.CreateApplication(ctx, "app-two", "App Two")
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	if _, err := f.rbac.CreateUser(ctx, other.ID, "u1", "pw"); err != nil {
		t.Fatalf("same login in other application: %v", err)
	}
}

func TestCreateUserStoresHashNotPassword(t *testing.T) {
	f := newRBACFixture(t)
	user, err := f.store.GetUser(context.Background(), f.app.ID, f.user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.PasswordHash == "pw-one" || user.PasswordHash == "" {
		t.Fatal("password must be stored as a hash")
	}
}

func TestGrantEnforcesTenantBoundary(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()

	other, err := f.rbac.CreateApplication(ctx, "app-two", "App Two")
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	foreignRole, err := f.rbac.CreateRole(ctx, other.ID, "editor", "", []string{"doc:read"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	// Role from app-two cannot be granted to an app-one user.
	if _, err := f.rbac.CreateGrant(ctx, f.app.ID, f.user.ID, foreignRole.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant grant: expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateGrantConflicts(t *testing.T) {
	f := newRBACFixture(t)
	role := f.grantRole(t, "editor", []string{"doc:read"})
	if _, err := f.rbac.CreateGrant(context.Background(), f.app.ID, f.user.ID, role.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate grant, got %v", err)
	}
}

func TestDeleteRoleCascadesGrants(t *testing.T) {
	f := newRBACFixture(t)
	role := f.grantRole(t, "editor", []string{"doc:read"})
	ctx := context.Background()

	if err := f.rbac.DeleteRole(ctx, f.app.ID, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	grants, err := f.rbac.ListGrants(ctx, f.app.ID, f.user.ID)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected grants to cascade with role deletion, got %d", len(grants))
	}
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()

	if err := f.rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	if err := f.rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins twice: %v", err)
	}

	app, err := f.rbac.GetApplicationBySlug(ctx, ManagementApplication)
	if err != nil {
		t.Fatalf("management application missing: %v", err)
	}
	roles, err := f.rbac.ListRoles(ctx, app.ID)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	var admin *Role
	for i := range roles {
		if roles[i].Name == AdminRole {
			admin = &roles[i]
		}
	}
	if admin == nil {
		t.Fatal("admin role missing")
	}
	if len(admin.Permissions) != len(ManagementPermissions) {
		t.Fatalf("admin role holds %d permissions, want %d", len(admin.Permissions), len(ManagementPermissions))
	}
}
