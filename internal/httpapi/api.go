// Package httpapi exposes authentication, token and RBAC administration
// endpoints over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"secma.org/internal/auth"
	"secma.org/internal/obs"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service and its RBAC administration.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	rbac       *auth.RBACService
	readyProbe ReadyProbe
	version    string

	loginRate  float64
	loginBurst int
}

// Option configures API construction.
type Option func(*API)

// WithLoginRateLimit bounds login attempts per client IP.
func WithLoginRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.loginRate = perSecond
			a.loginBurst = burst
		}
	}
}

// New wires routes. Both services are required; the ready probe may carry a
// nil DB when the service runs without persistence checks.
func New(authSvc *auth.Service, rbacSvc *auth.RBACService, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		rbac:       rbacSvc,
		readyProbe: rp,
		version:    version,
		loginRate:  1,
		loginBurst: 5,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// Credential verification is the only endpoint worth brute-forcing, so
	// it alone sits behind the per-IP limiter.
	a.mux.Handle("/v1/auth/token", RateLimit(http.HandlerFunc(a.handleAuthToken), a.loginBurst, a.loginRate))
	a.mux.HandleFunc("/v1/auth/refresh", a.handleAuthRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleAuthLogout)
	a.mux.HandleFunc("/v1/auth/introspect", a.handleAuthIntrospect)

	a.mux.HandleFunc("/v1/apps", a.handleApps)
	a.mux.HandleFunc("/v1/apps/", a.handleAppScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(SecurityHeaders(Logging(withRequestID(a.mux))))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "secma-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "secma-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
