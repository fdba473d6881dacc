package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, store *memStore, clock *testClock, opts ...EngineOption) *Engine {
	t.Helper()
	kr, err := NewKeyring("test-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	base := []EngineOption{WithIssuer("test"), WithEngineClock(clock.Now)}
	engine, err := NewEngine(kr, store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestMintAccessRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, newMemStore(), clock)

	token, exp, err := engine.MintAccess("user-1", "app-1", []string{"editor", "viewer", "editor"})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if want := clock.now.Add(engine.AccessTTL()); !exp.Equal(want) {
		t.Fatalf("expiry %v, want %v", exp, want)
	}

	claims, err := engine.Validate(context.Background(), token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-1" || claims.ApplicationID != "app-1" {
		t.Fatalf("unexpected identity: sub=%s app=%s", claims.Subject, claims.ApplicationID)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected type %s", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
	if !slices.Contains(claims.Roles, "editor") || !slices.Contains(claims.Roles, "viewer") || len(claims.Roles) != 2 {
		t.Fatalf("roles not preserved/deduplicated: %v", claims.Roles)
	}
}

func TestRefreshTokenOmitsRoles(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, newMemStore(), clock)

	token, _, err := engine.MintRefresh("user-1", "app-1")
	if err != nil {
		t.Fatalf("MintRefresh: %v", err)
	}
	claims, err := engine.Validate(context.Background(), token, TokenTypeRefresh)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(claims.Roles) != 0 {
		t.Fatalf("refresh token must not carry roles, got %v", claims.Roles)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, newMemStore(), clock)

	access, _, err := engine.MintAccess("user-1", "app-1", nil)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if _, err := engine.Validate(context.Background(), access, TokenTypeRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for type mismatch, got %v", err)
	}
}

func TestExpiryBoundaryInclusive(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, newMemStore(), clock, WithAccessTTL(10*time.Minute))

	token, exp, err := engine.MintAccess("user-1", "app-1", nil)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	clock.now = exp.Add(-time.Second)
	if _, err := engine.Validate(context.Background(), token, TokenTypeAccess); err != nil {
		t.Fatalf("token must be valid one second before expiry: %v", err)
	}

	clock.now = exp
	if _, err := engine.Validate(context.Background(), token, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token with exp == now must be expired, got %v", err)
	}

	clock.now = exp.Add(time.Second)
	if _, err := engine.Validate(context.Background(), token, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token past expiry must be invalid, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	engine := newTestEngine(t, store, clock)

	token, exp, err := engine.MintAccess("user-1", "app-1", nil)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	claims, err := engine.Validate(context.Background(), token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := engine.Revoke(context.Background(), claims.ID, exp); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := engine.Revoke(context.Background(), claims.ID, exp); err != nil {
		t.Fatalf("second Revoke must be idempotent: %v", err)
	}
	if _, err := engine.Validate(context.Background(), token, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("revoked token must not validate, got %v", err)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	engine := newTestEngine(t, store, clock)

	if err := engine.Revoke(context.Background(), "stale-jti", clock.now.Add(-time.Hour)); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	if len(store.revoked) != 0 {
		t.Fatalf("expired revocation must not be recorded, registry has %d rows", len(store.revoked))
	}
}

func TestKeyRotationGraceWindow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	kr, err := NewKeyring("key-one")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	engine, err := NewEngine(kr, newMemStore(), WithIssuer("test"), WithEngineClock(clock.Now))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	old, _, err := engine.MintAccess("user-1", "app-1", nil)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if err := kr.Rotate("key-two"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Tokens signed under the retired-but-retained key still verify.
	if _, err := engine.Validate(context.Background(), old, TokenTypeAccess); err != nil {
		t.Fatalf("token under previous key must stay valid: %v", err)
	}

	// Push the original key out of the ring entirely.
	if err := kr.Rotate("key-three"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := kr.Rotate("key-four"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := engine.Validate(context.Background(), old, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token under dropped key must be invalid, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, newMemStore(), clock)

	token, _, err := engine.MintAccess("user-1", "app-1", nil)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := engine.Validate(context.Background(), tampered, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered token must be invalid, got %v", err)
	}
	if _, err := engine.Validate(context.Background(), "", TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("empty token must be invalid, got %v", err)
	}
}
