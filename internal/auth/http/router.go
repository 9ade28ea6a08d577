// Package http is the service's HTTP boundary. Handlers decode, call the
// token service, and encode; every token failure collapses into one generic
// 401 body so responses never leak why a token was rejected.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dss-platform/auth/internal/auth/directory"
	"github.com/dss-platform/auth/internal/auth/ratelimit"
	"github.com/dss-platform/auth/internal/auth/service"
	"github.com/dss-platform/auth/internal/auth/store"
	"github.com/dss-platform/auth/pkg/httpx"
	"github.com/dss-platform/auth/pkg/keystore"
)

// Config tunes the HTTP boundary.
type Config struct {
	// CookieSecure should only be false for plain-HTTP development setups.
	CookieSecure bool
	CookieDomain string
	RefreshTTL   time.Duration
	JWKSCacheTTL time.Duration
}

// Handler carries the handler dependencies.
type Handler struct {
	tokens   *service.TokenService
	keys     *keystore.Store
	registry store.Registry
	cfg      Config
	log      *slog.Logger
}

// New builds the HTTP boundary.
func New(tokens *service.TokenService, keys *keystore.Store, registry store.Registry, cfg Config, log *slog.Logger) *Handler {
	if cfg.JWKSCacheTTL <= 0 {
		cfg.JWKSCacheTTL = time.Hour
	}
	return &Handler{tokens: tokens, keys: keys, registry: registry, cfg: cfg, log: log}
}

// Routes returns the service mux. Middleware (request logging, recovery) is
// applied by the caller around the whole mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.HandleFunc("GET /auth/verify", h.verify)
	mux.HandleFunc("GET /auth/userinfo", h.userinfo)
	mux.HandleFunc("POST /auth/forgot-password", h.forgotPassword)
	mux.HandleFunc("POST /auth/reset-password", h.resetPassword)

	mux.HandleFunc("GET /.well-known/jwks.json", h.jwks)

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service failures onto the boundary's uniform responses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid credentials"})

	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenReused):
		httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid or expired token"})

	case errors.Is(err, ratelimit.ErrRateLimited):
		httpx.WriteJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many attempts, please try again later"})

	case errors.Is(err, store.ErrUnavailable), errors.Is(err, directory.ErrUnavailable):
		httpx.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Service temporarily unavailable"})

	default:
		httpx.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	httpx.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
