package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dss-platform/auth/internal/auth/service"
	"github.com/dss-platform/auth/pkg/httpx"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Malformed request body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeBadRequest(w, "identifier and password are required")
		return
	}

	pair, _, err := h.tokens.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		ClientIP:   httpx.ClientIP(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(pair.ExpiresIn / time.Second),
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFromRequest(r)
	if token == "" {
		h.writeError(w, service.ErrInvalidToken)
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), token)
	if err != nil {
		// Whatever went wrong, the presented cookie is no longer usable.
		h.clearRefreshCookie(w)
		h.writeError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(pair.ExpiresIn / time.Second),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if token := refreshTokenFromRequest(r); token != "" {
		if err := h.tokens.Logout(r.Context(), token); err != nil {
			h.log.ErrorContext(r.Context(), "logout failed", "error", err)
		}
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type verifyResponse struct {
	Active   bool     `json:"active"`
	Subject  string   `json:"sub,omitempty"`
	Username string   `json:"preferred_username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Expires  int64    `json:"exp,omitempty"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token := httpx.BearerToken(r)
	if token == "" {
		h.writeError(w, service.ErrInvalidToken)
		return
	}

	claims, err := h.tokens.VerifyAccess(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, verifyResponse{
		Active:   true,
		Subject:  claims.Subject,
		Username: claims.PreferredUsername,
		Roles:    claims.Roles,
		Scope:    claims.Scope,
		Expires:  claims.ExpiresAt.Unix(),
	})
}

type userinfoResponse struct {
	Subject  string   `json:"sub"`
	Username string   `json:"preferred_username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func (h *Handler) userinfo(w http.ResponseWriter, r *http.Request) {
	token := httpx.BearerToken(r)
	if token == "" {
		h.writeError(w, service.ErrInvalidToken)
		return
	}

	claims, err := h.tokens.VerifyAccess(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userinfoResponse{
		Subject:  claims.Subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Roles:    claims.Roles,
	})
}
