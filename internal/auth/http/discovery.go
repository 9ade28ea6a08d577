package http

import (
	"encoding/json"
	"net/http"

	"github.com/dss-platform/auth/pkg/httpx"
)

// jwks serves the discovery document. The shared cache keeps replicas from
// re-rendering it per request; the key store stays the source of truth, so a
// cold or unreachable cache only costs a render.
func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	cache := h.registry.DiscoveryCache()

	if doc, err := cache.Get(r.Context()); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
		return
	}

	doc, err := json.Marshal(h.keys.DiscoveryDocument())
	if err != nil {
		h.log.ErrorContext(r.Context(), "render discovery document failed", "error", err)
		h.writeError(w, err)
		return
	}

	if err := cache.Set(r.Context(), doc, h.cfg.JWKSCacheTTL); err != nil {
		h.log.WarnContext(r.Context(), "cache discovery document failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz answers 503 until the registry responds and the key store holds a
// usable signing key.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Ping(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "store unavailable",
		})
		return
	}
	if _, _, err := h.keys.Signer(); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "no active signing key",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
