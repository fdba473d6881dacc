package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"secma.org/internal/audit"
	"secma.org/internal/auth"
	"secma.org/internal/obs"
)

type loginRequest struct {
	Application string `json:"application"`
	Login       string `json:"login"`
	Password    string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type introspectRequest struct {
	Token      string `json:"token"`
	Permission string `json:"permission"`
}

type introspectResponse struct {
	Active        bool      `json:"active"`
	Subject       string    `json:"subject,omitempty"`
	ApplicationID string    `json:"application_id,omitempty"`
	Roles         []string  `json:"roles,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Clients address applications by slug; translate to the id the
	// service works with. An unknown slug falls through to Login, which
	// answers uniformly for every failure mode.
	appRef := strings.TrimSpace(req.Application)
	if app, err := a.rbac.GetApplicationBySlug(r.Context(), appRef); err == nil {
		appRef = app.ID
	}

	pair, err := a.auth.Login(r.Context(), appRef, req.Login, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.ObserveLogin("denied")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrStoreUnavailable):
			obs.ObserveLogin("error")
			writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		default:
			obs.ObserveLogin("error")
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}
	obs.ObserveLogin("ok")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"application": req.Application,
		"login":       req.Login,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		handleTokenError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthIntrospect reports whether a token is valid and, when a
// permission is supplied, whether its holder may exercise it. The answer is
// always 200; a bad token is simply inactive.
func (a *API) handleAuthIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req introspectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := a.auth.Authorize(r.Context(), req.Token, req.Permission)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrPermissionDenied):
			obs.ObserveTokenValidation("rejected")
			writeJSON(w, http.StatusOK, introspectResponse{Active: false})
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, r, http.StatusInternalServerError, "introspection failed")
		}
		return
	}
	obs.ObserveTokenValidation("ok")
	writeJSON(w, http.StatusOK, introspectResponse{
		Active:        true,
		Subject:       claims.Subject,
		ApplicationID: claims.ApplicationID,
		Roles:         claims.Roles,
		ExpiresAt:     claims.ExpiresAt.Time,
	})
}

func handleTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenInvalid):
		obs.ObserveTokenValidation("rejected")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "token operation failed")
	}
}
