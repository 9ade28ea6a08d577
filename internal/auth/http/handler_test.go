package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dss-platform/auth/internal/auth/directory"
	httpapi "github.com/dss-platform/auth/internal/auth/http"
	"github.com/dss-platform/auth/internal/auth/ratelimit"
	"github.com/dss-platform/auth/internal/auth/service"
	redisstore "github.com/dss-platform/auth/internal/auth/store/drivers/redis"
	"github.com/dss-platform/auth/pkg/jwtx"
	"github.com/dss-platform/auth/pkg/keystore"
)

// newDirectoryStub serves the slice of the user directory API the auth
// service calls, guarded by the service token the client self-issues.
func newDirectoryStub(t *testing.T, codec *jwtx.Codec) *httptest.Server {
	t.Helper()
	mux := stdhttp.NewServeMux()

	authorized := func(r *stdhttp.Request) bool {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := codec.VerifyForAudience(raw, jwtx.KindService, "user-directory")
		return err == nil && claims.Subject == "client_auth-service"
	}

	mux.HandleFunc("POST /internal/users/verify-credentials", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if !authorized(r) {
			w.WriteHeader(stdhttp.StatusForbidden)
			return
		}
		var req struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Identifier != "alice" || req.Password != "hunter2" {
			w.WriteHeader(stdhttp.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "user-1",
			"username": "alice",
			"email":    "alice@example.com",
			"roles":    []string{"user"},
			"verified": true,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	srv   *httptest.Server
	mr    *miniredis.Miniredis
	codec *jwtx.Codec
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	registry := redisstore.New(rdb)
	t.Cleanup(func() { _ = registry.Close() })

	dir := t.TempDir()
	require.NoError(t, keystore.Generate(dir, "2026-01", 2048, false))
	require.NoError(t, keystore.SetActive(dir, "2026-01"))
	keys, err := keystore.Open(dir, keystore.Options{})
	require.NoError(t, err)

	codec := &jwtx.Codec{
		Keys:     keys,
		Issuer:   "test-issuer",
		Audience: "test-audience",
	}

	dirSrv := newDirectoryStub(t, codec)
	dirClient := directory.New(dirSrv.URL, "user-directory", codec)

	limits := ratelimit.NewLimiters(registry.Counters(), ratelimit.DefaultConfig())
	tokens := service.NewTokenService(codec, registry, limits, dirClient,
		service.TokenConfig{}, slog.New(slog.DiscardHandler))

	handler := httpapi.New(tokens, keys, registry, httpapi.Config{
		CookieSecure: false,
		RefreshTTL:   jwtx.DefaultRefreshTTL,
		JWKSCacheTTL: time.Hour,
	}, slog.New(slog.DiscardHandler))

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)

	return &env{srv: srv, mr: mr, codec: codec}
}

func postJSON(t *testing.T, client *stdhttp.Client, url string, body any, cookies ...*stdhttp.Cookie) *stdhttp.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := stdhttp.NewRequest(stdhttp.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func refreshCookie(t *testing.T, resp *stdhttp.Response) *stdhttp.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	t.Fatal("no refresh_token cookie in response")
	return nil
}

func TestLoginRefreshReplayFlow(t *testing.T) {
	e := newEnv(t)
	client := e.srv.Client()

	// Login: access token in the body, refresh token only in the cookie.
	resp := postJSON(t, client, e.srv.URL+"/auth/login",
		map[string]string{"identifier": "alice", "password": "hunter2"})
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var loginBody struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginBody))
	resp.Body.Close()
	require.NotEmpty(t, loginBody.AccessToken)
	require.Equal(t, "Bearer", loginBody.TokenType)

	cookie := refreshCookie(t, resp)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, "/auth", cookie.Path)
	require.NotEqual(t, loginBody.AccessToken, cookie.Value)

	// Refresh: a new pair, a new cookie.
	resp = postJSON(t, client, e.srv.URL+"/auth/refresh", nil, cookie)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	resp.Body.Close()
	newCookie := refreshCookie(t, resp)
	require.NotEqual(t, cookie.Value, newCookie.Value)

	// Replaying the spent cookie fails with the generic 401 body.
	resp = postJSON(t, client, e.srv.URL+"/auth/refresh", nil, cookie)
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"error":"Invalid or expired token"}`, string(body))

	// The fresh cookie still works.
	resp = postJSON(t, client, e.srv.URL+"/auth/refresh", nil, newCookie)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.srv.Client(), e.srv.URL+"/auth/login",
		map[string]string{"identifier": "alice", "password": "wrong"})
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"error":"Invalid credentials"}`, string(body))
}

func TestVerifyAndUserinfo(t *testing.T) {
	e := newEnv(t)
	client := e.srv.Client()

	resp := postJSON(t, client, e.srv.URL+"/auth/login",
		map[string]string{"identifier": "alice", "password": "hunter2"})
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	var loginBody struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginBody))
	resp.Body.Close()

	req, err := stdhttp.NewRequest(stdhttp.MethodGet, e.srv.URL+"/auth/verify", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+loginBody.AccessToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	var verifyBody struct {
		Active  bool   `json:"active"`
		Subject string `json:"sub"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verifyBody))
	resp.Body.Close()
	require.True(t, verifyBody.Active)
	require.Equal(t, "user-1", verifyBody.Subject)

	req, err = stdhttp.NewRequest(stdhttp.MethodGet, e.srv.URL+"/auth/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+loginBody.AccessToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	var infoBody struct {
		Subject  string `json:"sub"`
		Username string `json:"preferred_username"`
		Email    string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infoBody))
	resp.Body.Close()
	require.Equal(t, "user-1", infoBody.Subject)
	require.Equal(t, "alice", infoBody.Username)
	require.Equal(t, "alice@example.com", infoBody.Email)

	// No bearer token, same generic 401.
	resp, err = client.Get(e.srv.URL + "/auth/verify")
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newEnv(t)
	client := e.srv.Client()

	resp := postJSON(t, client, e.srv.URL+"/auth/login",
		map[string]string{"identifier": "alice", "password": "hunter2"})
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	resp.Body.Close()
	cookie := refreshCookie(t, resp)

	resp = postJSON(t, client, e.srv.URL+"/auth/logout", nil, cookie)
	require.Equal(t, stdhttp.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	cleared := refreshCookie(t, resp)
	require.Empty(t, cleared.Value)

	// The logged-out token is spent.
	resp = postJSON(t, client, e.srv.URL+"/auth/refresh", nil, cookie)
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestJWKSEndpointServesAndCaches(t *testing.T) {
	e := newEnv(t)

	resp, err := e.srv.Client().Get(e.srv.URL + "/.well-known/jwks.json")
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	resp.Body.Close()
	require.Len(t, doc.Keys, 1)
	require.Equal(t, "2026-01", doc.Keys[0]["kid"])
	require.NotContains(t, doc.Keys[0], "d")

	// The rendered document landed in the shared cache.
	require.True(t, e.mr.Exists("jwks"))
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, err := e.srv.Client().Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = e.srv.Client().Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Readiness degrades when the shared store goes away.
	e.mr.Close()
	resp, err = e.srv.Client().Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, stdhttp.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
