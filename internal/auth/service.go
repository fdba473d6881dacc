package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SuperUserSubject is the reserved token subject minted for the super-user.
// Logins may not contain "@", so no stored user can collide with it.
const SuperUserSubject = "@super"

// TokenPair carries freshly minted access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service is the single entry point the transport collaborator calls:
// Login, Refresh, Authorize, Logout.
type Service struct {
	store    Store
	hasher   *Hasher
	tokens   *Engine
	resolver *Resolver

	superLogin string
	superHash  string
	dummyHash  string

	now func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSuperUser enables the super-user identity, which logs in through the
// management application and bypasses permission checks everywhere. The
// password is hashed once at construction; an empty login disables the
// identity.
func WithSuperUser(login, password string) ServiceOption {
	return func(s *Service) error {
		login = strings.TrimSpace(strings.ToLower(login))
		if login == "" {
			return nil
		}
		if password == "" {
			return fmt.Errorf("%w: super-user password is required", ErrInvalidInput)
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}
		s.superLogin = login
		s.superHash = hash
		return nil
	}
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the facade.
func NewService(store Store, hasher *Hasher, tokens *Engine, resolver *Resolver, opts ...ServiceOption) (*Service, error) {
	if store == nil || hasher == nil || tokens == nil || resolver == nil {
		return nil, errors.New("store, hasher, token engine and resolver are required")
	}
	s := &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		resolver: resolver,
		now:      time.Now,
	}
	// Verified against when the user lookup misses, so a miss costs the
	// same bcrypt work as a mismatch.
	dummy, err := hasher.Hash("secma-login-timing-pad")
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Login verifies credentials and mints a token pair. Every failure mode
// (unknown application, unknown or disabled user, wrong password) returns
// ErrInvalidCredentials after comparable work, so neither the error nor its
// latency reveals which part failed.
func (s *Service) Login(ctx context.Context, applicationID, login, password string) (TokenPair, error) {
	applicationID = strings.TrimSpace(applicationID)
	login = strings.TrimSpace(strings.ToLower(login))
	if applicationID == "" || login == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if !app.Enabled {
		s.hasher.Verify(s.dummyHash, password)
		return TokenPair{}, ErrInvalidCredentials
	}

	// The super-user is an identity of the management application only.
	// Inside tenant applications the login falls through to the normal
	// lookup, so a tenant user who shares the name keeps working.
	if s.superLogin != "" && login == s.superLogin && app.Slug == ManagementApplication {
		if !s.hasher.Verify(s.superHash, password) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return s.mintPair(SuperUserSubject, app.ID, nil)
	}

	user, err := s.store.GetUserByLogin(ctx, app.ID, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	// The hash comparison runs before the status check so disabled users
	// cost the same as active ones.
	if !s.hasher.Verify(user.PasswordHash, password) || !user.Enabled() {
		return TokenPair{}, ErrInvalidCredentials
	}

	roles, err := s.roleNames(ctx, app.ID, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return s.mintPair(user.ID, app.ID, roles)
}

// Refresh validates a refresh token, re-resolves the user's current roles
// (so privilege changes since issuance take effect) and mints a fresh pair.
// Refresh tokens rotate on use: the presented token's jti is revoked before
// the new pair is minted, so replaying it fails with ErrTokenInvalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.Validate(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	var roles []string
	if claims.Subject != SuperUserSubject {
		app, err := s.store.GetApplication(ctx, claims.ApplicationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return TokenPair{}, ErrTokenInvalid
			}
			return TokenPair{}, err
		}
		user, err := s.store.GetUser(ctx, app.ID, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return TokenPair{}, ErrTokenInvalid
			}
			return TokenPair{}, err
		}
		if !app.Enabled || !user.Enabled() {
			return TokenPair{}, ErrTokenInvalid
		}
		roles, err = s.roleNames(ctx, app.ID, user.ID)
		if err != nil {
			return TokenPair{}, err
		}
	}

	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, err
	}
	return s.mintPair(claims.Subject, claims.ApplicationID, roles)
}

// Authorize validates an access token and checks that its identity holds the
// required permission inside the token's application. An empty permission
// performs authentication only. The super-user bypasses resolution.
func (s *Service) Authorize(ctx context.Context, accessToken, requiredPermission string) (*Claims, error) {
	claims, err := s.tokens.Validate(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	requiredPermission = strings.TrimSpace(requiredPermission)
	if requiredPermission == "" || claims.Subject == SuperUserSubject {
		return claims, nil
	}

	perms, err := s.Resolve(ctx, claims.ApplicationID, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !perms.Has(requiredPermission) {
		return nil, ErrPermissionDenied
	}
	return claims, nil
}

// Resolve computes the effective permission set for the pair, applying the
// super-user short-circuit without touching the store.
func (s *Service) Resolve(ctx context.Context, applicationID, userID string) (PermissionSet, error) {
	if userID == SuperUserSubject {
		return AllPermissions(), nil
	}
	return s.resolver.Resolve(ctx, applicationID, userID)
}

// Logout revokes the access token's jti. The paired refresh token is not
// tracked (tokens are self-contained); it dies at expiry or first reuse
// after the account is disabled.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.Validate(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (s *Service) mintPair(subject, applicationID string, roles []string) (TokenPair, error) {
	access, accessExp, err := s.tokens.MintAccess(subject, applicationID, roles)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.MintRefresh(subject, applicationID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) roleNames(ctx context.Context, applicationID, userID string) ([]string, error) {
	roles, err := s.store.UserRoles(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}
