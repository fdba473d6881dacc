package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	defaultIssuer     = "secma"
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Claims is the decoded payload of a signed token. Access tokens carry the
// role names held at mint time; refresh tokens deliberately do not, so roles
// are re-resolved when the refresh token is spent.
type Claims struct {
	ApplicationID string   `json:"app"`
	TokenType     string   `json:"type"`
	Roles         []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// RevocationRegistry records token ids that must no longer validate.
type RevocationRegistry interface {
	RevokeToken(ctx context.Context, jti string, expiresAt, revokedAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Engine mints and validates signed expiring tokens using HS256 over a
// rotateable keyring, and consults a revocation registry during validation.
type Engine struct {
	keys        *Keyring
	revocations RevocationRegistry
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) EngineOption {
	return func(e *Engine) error {
		if s := strings.TrimSpace(issuer); s != "" {
			e.issuer = s
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: access ttl must be positive", ErrInvalidInput)
		}
		e.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: refresh ttl must be positive", ErrInvalidInput)
		}
		e.refreshTTL = ttl
		return nil
	}
}

// WithEngineClock overrides the time source (useful for tests).
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// NewEngine constructs an Engine. The keyring and revocation registry are
// required; a service that cannot sign tokens must not start.
func NewEngine(keys *Keyring, revocations RevocationRegistry, opts ...EngineOption) (*Engine, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: keyring is required", ErrInvalidInput)
	}
	if revocations == nil {
		return nil, fmt.Errorf("%w: revocation registry is required", ErrInvalidInput)
	}
	e := &Engine{
		keys:        keys,
		revocations: revocations,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AccessTTL returns the configured access token lifetime.
func (e *Engine) AccessTTL() time.Duration { return e.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (e *Engine) RefreshTTL() time.Duration { return e.refreshTTL }

// MintAccess signs an access token for the user within the application.
func (e *Engine) MintAccess(userID, applicationID string, roles []string) (string, time.Time, error) {
	return e.mint(userID, applicationID, TokenTypeAccess, e.accessTTL, dedupeStrings(roles))
}

// MintRefresh signs a refresh token. Roles are intentionally omitted.
func (e *Engine) MintRefresh(userID, applicationID string) (string, time.Time, error) {
	return e.mint(userID, applicationID, TokenTypeRefresh, e.refreshTTL, nil)
}

func (e *Engine) mint(userID, applicationID, tokenType string, ttl time.Duration, roles []string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	applicationID = strings.TrimSpace(applicationID)
	if userID == "" || applicationID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id and application id are required", ErrInvalidInput)
	}

	now := e.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		ApplicationID: applicationID,
		TokenType:     tokenType,
		Roles:         roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	key := e.keys.Signing()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies signature, expiry, type and revocation state. Expiry is
// inclusive: a token whose exp equals the current instant is expired.
func (e *Engine) Validate(ctx context.Context, token, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, e.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
		jwt.WithIssuer(e.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if err := e.checkClaims(claims, wantType); err != nil {
		return nil, ErrTokenInvalid
	}

	revoked, err := e.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (e *Engine) verificationKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrTokenInvalid
	}
	key, ok := e.keys.Lookup(kid)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return key.Secret, nil
}

func (e *Engine) checkClaims(claims *Claims, wantType string) error {
	if claims.TokenType != wantType {
		return fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ApplicationID) == "" {
		return errors.New("application missing")
	}
	if claims.ID == "" {
		return errors.New("jti missing")
	}
	now := e.now().UTC()
	// jwt's own validator treats exp > now as valid; pin the boundary so
	// exp == now is rejected too.
	if !claims.ExpiresAt.Time.After(now) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(5*time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}

// Revoke inserts the token id into the revocation registry. Revoking an
// already-expired token is a no-op, and revoking twice is idempotent.
func (e *Engine) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return fmt.Errorf("%w: jti is required", ErrInvalidInput)
	}
	now := e.now().UTC()
	if !expiresAt.After(now) {
		return nil
	}
	return e.revocations.RevokeToken(ctx, jti, expiresAt, now)
}
