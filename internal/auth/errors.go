package auth

import "errors"

var (
	// ErrInvalidCredentials is returned by Login for every failure mode
	// (unknown user, disabled user, wrong password) so callers cannot
	// distinguish them.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTokenInvalid covers malformed, expired, revoked and wrong-type tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrPermissionDenied means the identity is valid but lacks the
	// requested permission.
	ErrPermissionDenied = errors.New("auth: permission denied")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrStoreUnavailable signals a transient persistence failure. Callers
	// may retry with backoff; the core never retries internally.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)
