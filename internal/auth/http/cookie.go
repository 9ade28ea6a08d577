package http

import (
	"net/http"
	"time"
)

// refreshCookieName is the only place the refresh token ever travels. It is
// never included in a JSON response body.
const refreshCookieName = "refresh_token"

// refreshCookiePath scopes the cookie to the auth endpoints so it is not
// sent along with ordinary API traffic.
const refreshCookiePath = "/auth"

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(h.cfg.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFromRequest pulls the refresh cookie; empty when absent.
func refreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
