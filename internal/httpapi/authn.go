package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"secma.org/internal/auth"
	"secma.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requirePermission validates the request's bearer token and checks the
// management permission. On success the returned request carries the claims
// and raw token in its context; on failure the response has been written.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm string) (*http.Request, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	claims, err := a.auth.Authorize(r.Context(), token, perm)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenInvalid):
			obs.ObservePermissionCheck("unauthenticated")
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		case errors.Is(err, auth.ErrPermissionDenied):
			obs.ObservePermissionCheck("denied")
			writeError(w, r, http.StatusForbidden, "permission denied")
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, r, http.StatusInternalServerError, "authorization failed")
		}
		return nil, false
	}
	// Management permission strings carry no meaning inside tenant
	// applications: only identities of the management application (and the
	// super-user) may call this surface, whatever roles a tenant admin has
	// delegated within their own application.
	if claims.Subject != auth.SuperUserSubject {
		app, err := a.rbac.GetApplication(r.Context(), claims.ApplicationID)
		switch {
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
			return nil, false
		case err == nil && app.Slug == auth.ManagementApplication:
			// allowed
		default:
			obs.ObservePermissionCheck("denied")
			writeError(w, r, http.StatusForbidden, "permission denied")
			return nil, false
		}
	}
	obs.ObservePermissionCheck("ok")
	ctx := auth.ContextWithClaims(r.Context(), claims)
	ctx = auth.ContextWithToken(ctx, token)
	return r.WithContext(ctx), true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
